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

package audit

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Event types
const (
	TypeRoleCreated          = "role_created"
	TypeRoleDeleted          = "role_deleted"
	TypeGroupCreated         = "group_created"
	TypeGroupDeleted         = "group_deleted"
	TypeAPIPermGranted       = "api_permission_granted"
	TypeAPIPermRevoked       = "api_permission_revoked"
	TypeEntityPermGranted    = "entity_permission_granted"
	TypeEntityPermRevoked    = "entity_permission_revoked"
	TypeGroupRolesAdded      = "group_roles_added"
	TypeGroupRolesRemoved    = "group_roles_removed"
	TypeGroupAccountsAdded   = "group_accounts_added"
	TypeGroupAccountsRemoved = "group_accounts_removed"
)

// Event represents an auditable action
type Event struct {
	Type        string
	Description string
	DomainID    int64
	ActorID     int64
	Resource    string
	Metadata    map[string]any
	Timestamp   time.Time
}

// Logger defines the interface for audit logging. Emission is
// fire-and-forget: a sink failure never fails the operation it records.
type Logger interface {
	Log(ctx context.Context, event Event)
}

// SlogLogger implements Logger using slog
type SlogLogger struct{}

// NewSlogLogger creates a new audit logger
func NewSlogLogger() *SlogLogger {
	return &SlogLogger{}
}

// Log records an audit event
func (l *SlogLogger) Log(ctx context.Context, event Event) {
	// Ensure timestamp is set
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	attrs := []any{
		slog.String("audit_type", event.Type),
		slog.String("description", event.Description),
		slog.Int64("domain_id", event.DomainID),
		slog.Int64("actor_id", event.ActorID),
		slog.String("resource", event.Resource),
		slog.Time("timestamp", event.Timestamp),
	}

	// Flatten metadata, masking anything that looks like a secret
	if len(event.Metadata) > 0 {
		group := []any{}
		for k, v := range event.Metadata {
			if isSecret(k) {
				v = "[REDACTED]"
			}
			group = append(group, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("metadata", group...))
	}

	slog.InfoContext(ctx, "AUDIT_EVENT", append(attrs, slog.String("component", "audit"))...)
}

// isSecret checks if a key likely contains a secret
func isSecret(key string) bool {
	k := strings.ToLower(key)
	for _, marker := range []string{"password", "secret", "token", "key", "hash", "credential", "authorization"} {
		if strings.Contains(k, marker) {
			return true
		}
	}
	return false
}
