package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{
			"API_FIREBASE_PROJECT_ID": "craftlink-test",
		}),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Server.Port = %q, want 8080", cfg.Server.Port)
	}
	if cfg.Firestore.ProjectID != "craftlink-test" {
		t.Errorf("Firestore.ProjectID = %q, want fallback to firebase project", cfg.Firestore.ProjectID)
	}
	if cfg.PubSub.ProjectID != "craftlink-test" {
		t.Errorf("PubSub.ProjectID = %q, want fallback to firebase project", cfg.PubSub.ProjectID)
	}
	if cfg.PubSub.EventTopic != "marketplace-events" {
		t.Errorf("PubSub.EventTopic = %q, want marketplace-events", cfg.PubSub.EventTopic)
	}
	if cfg.Refunds.FullRefundWindow != 12*time.Hour {
		t.Errorf("Refunds.FullRefundWindow = %v, want 12h", cfg.Refunds.FullRefundWindow)
	}
	if cfg.Refunds.LateRefundPercent != 70 {
		t.Errorf("Refunds.LateRefundPercent = %d, want 70", cfg.Refunds.LateRefundPercent)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{
			"API_FIREBASE_PROJECT_ID":  "craftlink-test",
			"API_FIRESTORE_PROJECT_ID": "craftlink-db",
			"API_SERVER_PORT":          "9090",
			"API_SERVER_READ_TIMEOUT":  "5s",
			"API_REFUND_FULL_WINDOW":   "24h",
			"API_REFUND_LATE_PERCENT":  "50",
			"API_STRIPE_API_KEY":       "sk_test_123",
		}),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %q, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 5s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "craftlink-db" {
		t.Errorf("Firestore.ProjectID = %q, want craftlink-db", cfg.Firestore.ProjectID)
	}
	if cfg.Refunds.FullRefundWindow != 24*time.Hour {
		t.Errorf("Refunds.FullRefundWindow = %v, want 24h", cfg.Refunds.FullRefundWindow)
	}
	if cfg.Refunds.LateRefundPercent != 50 {
		t.Errorf("Refunds.LateRefundPercent = %d, want 50", cfg.Refunds.LateRefundPercent)
	}
	if cfg.Stripe.APIKey != "sk_test_123" {
		t.Errorf("Stripe.APIKey = %q, want sk_test_123", cfg.Stripe.APIKey)
	}
}

func TestLoadMissingProject(t *testing.T) {
	_, err := Load(WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(map[string]string{}))
	if err == nil {
		t.Fatal("Load succeeded without a firebase project")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %T, want *ValidationError", err)
	}
	fields := verr.Fields()
	found := false
	for _, f := range fields {
		if f == "Firebase.ProjectID" {
			found = true
		}
	}
	if !found {
		t.Errorf("Fields() = %v, want Firebase.ProjectID listed", fields)
	}
}

func TestLoadInvalidRefundPercent(t *testing.T) {
	_, err := Load(
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{
			"API_FIREBASE_PROJECT_ID": "craftlink-test",
			"API_REFUND_LATE_PERCENT": "140",
		}),
	)
	if err == nil {
		t.Fatal("Load accepted a refund percentage above 100")
	}
}

func TestLoadDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	contents := "# local overrides\nexport API_FIREBASE_PROJECT_ID=craftlink-local\nAPI_SERVER_PORT=\"7070\"\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing env file: %v", err)
	}

	cfg, err := Load(WithoutSystemEnv(), WithEnvFile(path))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Firebase.ProjectID != "craftlink-local" {
		t.Errorf("Firebase.ProjectID = %q, want craftlink-local", cfg.Firebase.ProjectID)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("Server.Port = %q, want 7070", cfg.Server.Port)
	}
}
