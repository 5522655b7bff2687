package utils

import (
	"errors"
	"testing"
	"time"

	"monetaBack/internal/models"
)

func TestManagerRoundTrip(t *testing.T) {
	m, err := NewManager("test-signing-key")
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	token, err := m.NewJWT("user-42", time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}

	userID, err := m.Parse(token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if userID != "user-42" {
		t.Errorf("user id = %q, want %q", userID, "user-42")
	}
}

func TestManagerRejects(t *testing.T) {
	m, _ := NewManager("test-signing-key")

	t.Run("garbage", func(t *testing.T) {
		if _, err := m.Parse("not.a.token"); !errors.Is(err, models.ErrUnauthorized) {
			t.Errorf("err = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		token, err := m.NewJWT("user-42", -time.Minute)
		if err != nil {
			t.Fatalf("mint token: %v", err)
		}
		if _, err := m.Parse(token); !errors.Is(err, models.ErrUnauthorized) {
			t.Errorf("err = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		other, _ := NewManager("other-key")
		token, err := other.NewJWT("user-42", time.Hour)
		if err != nil {
			t.Fatalf("mint token: %v", err)
		}
		if _, err := m.Parse(token); !errors.Is(err, models.ErrUnauthorized) {
			t.Errorf("err = %v, want ErrUnauthorized", err)
		}
	})
}

func TestNewManagerEmptyKey(t *testing.T) {
	if _, err := NewManager(""); err == nil {
		t.Error("expected error for empty signing key")
	}
}
