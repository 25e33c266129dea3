package repository

import (
	"slices"
	"testing"
	"time"

	"github.com/sakif/identity-service/internal/model"
)

func TestListOptions_Normalize(t *testing.T) {
	tests := []struct {
		name string
		in   ListOptions
		want ListOptions
	}{
		{"zero value", ListOptions{}, ListOptions{Limit: 20}},
		{"negative limit", ListOptions{Limit: -5}, ListOptions{Limit: 20}},
		{"within range", ListOptions{Limit: 50, Offset: 10}, ListOptions{Limit: 50, Offset: 10}},
		{"over maximum", ListOptions{Limit: 1000}, ListOptions{Limit: 100}},
		{"negative offset", ListOptions{Limit: 10, Offset: -1}, ListOptions{Limit: 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Normalize(); got != tt.want {
				t.Errorf("Normalize() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func columns(set []Assignment) []string {
	cols := make([]string, len(set))
	for i, a := range set {
		cols[i] = a.Column
	}
	return cols
}

func TestAssignments(t *testing.T) {
	exp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("empty update", func(t *testing.T) {
		if got := Assignments(model.UserUpdate{}); len(got) != 0 {
			t.Errorf("Assignments() = %v, want none", got)
		}
	})

	t.Run("verify email", func(t *testing.T) {
		got := Assignments(model.VerifyEmail())
		want := []string{"verified", "pending_token", "token_expires_at"}
		if cols := columns(got); !slices.Equal(cols, want) {
			t.Fatalf("columns = %v, want %v", cols, want)
		}
		if got[0].Value != true || got[1].Value != nil || got[2].Value != nil {
			t.Errorf("values = %v", got)
		}
	})

	t.Run("issue token", func(t *testing.T) {
		got := Assignments(model.IssueToken(model.PendingToken{Value: "abc", ExpiresAt: exp}))
		if cols := columns(got); !slices.Equal(cols, []string{"pending_token", "token_expires_at"}) {
			t.Fatalf("columns = %v", cols)
		}
		if got[0].Value != "abc" || got[1].Value != exp.UnixNano() {
			t.Errorf("values = %v", got)
		}
	})

	t.Run("reset password", func(t *testing.T) {
		got := Assignments(model.ResetPassword("hash"))
		want := []string{"password_hash", "pending_token", "token_expires_at"}
		if cols := columns(got); !slices.Equal(cols, want) {
			t.Fatalf("columns = %v, want %v", cols, want)
		}
	})
}
