// Copyright 2026 The CloudFence Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"context"

	"github.com/cloudfence/cloudfence/internal/acl"
)

type contextKey string

const callerKey contextKey = "caller"

// WithCaller stores the resolved caller in the context.
func WithCaller(ctx context.Context, caller acl.Caller) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// CallerFromContext retrieves the authenticated caller from context.
func CallerFromContext(ctx context.Context) (acl.Caller, bool) {
	caller, ok := ctx.Value(callerKey).(acl.Caller)
	return caller, ok
}
