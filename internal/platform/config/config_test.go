package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func validEnv() map[string]string {
	return map[string]string{
		"FIRESTORE_PROJECT_ID": "curryleaf-dev",
		"TRACKING_BASE_URL":    "https://orders.example.com",
		"STORE_NAME":           "Curry Leaf",
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(validEnv()),
	)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Fatalf("port = %q", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout == 0 || cfg.Server.WriteTimeout == 0 {
		t.Fatal("default timeouts not applied")
	}
	if cfg.SMTP.Port != 587 {
		t.Fatalf("smtp port = %d", cfg.SMTP.Port)
	}
	if cfg.SMTP.Configured() {
		t.Fatal("smtp must not report configured without host")
	}
	if cfg.Jobs.ProjectID != "curryleaf-dev" {
		t.Fatalf("jobs project = %q, want firestore fallback", cfg.Jobs.ProjectID)
	}
}

func TestLoadValidatesRequiredFields(t *testing.T) {
	_, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{"STORE_NAME": "Curry Leaf"}),
	)

	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	fields := validation.Fields()
	if !slices.Contains(fields, "FIRESTORE_PROJECT_ID") || !slices.Contains(fields, "TRACKING_BASE_URL") {
		t.Fatalf("fields = %v", fields)
	}
}

func TestLoadEmulatorSatisfiesFirestore(t *testing.T) {
	env := validEnv()
	delete(env, "FIRESTORE_PROJECT_ID")
	env["FIRESTORE_EMULATOR_HOST"] = "localhost:8900"

	cfg, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(env))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Firestore.EmulatorHost != "localhost:8900" {
		t.Fatalf("emulator host = %q", cfg.Firestore.EmulatorHost)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	env := validEnv()
	env["PORT"] = "9000"
	env["SERVER_READ_TIMEOUT"] = "5s"
	env["SMTP_HOST"] = "smtp.example.com"
	env["SMTP_PORT"] = "2525"
	env["SMTP_FROM"] = "store@example.com"
	env["ORDER_EVENTS_TOPIC"] = "order-events"
	env["PUBSUB_PROJECT_ID"] = "curryleaf-events"

	cfg, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(env))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != "9000" {
		t.Fatalf("port = %q", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 5*time.Second {
		t.Fatalf("read timeout = %v", cfg.Server.ReadTimeout)
	}
	if !cfg.SMTP.Configured() || cfg.SMTP.Port != 2525 {
		t.Fatalf("smtp = %+v", cfg.SMTP)
	}
	if cfg.Jobs.ProjectID != "curryleaf-events" || cfg.Jobs.OrderEventTopic != "order-events" {
		t.Fatalf("jobs = %+v", cfg.Jobs)
	}
}

func TestLoadResolvesSecretReferences(t *testing.T) {
	env := validEnv()
	env["STRIPE_API_KEY"] = "secret://stripe-api-key"
	env["SMTP_PASSWORD"] = "secret://smtp-password@3"

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		switch ref {
		case "stripe-api-key":
			return "sk_test_resolved", nil
		case "smtp-password@3":
			return "hunter2", nil
		}
		return "", errors.New("unknown secret " + ref)
	})

	cfg, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(env),
		WithSecretResolver(resolver),
	)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Stripe.APIKey != "sk_test_resolved" {
		t.Fatalf("stripe key = %q", cfg.Stripe.APIKey)
	}
	if cfg.SMTP.Password != "hunter2" {
		t.Fatalf("smtp password = %q", cfg.SMTP.Password)
	}
}

func TestLoadSecretReferenceWithoutResolver(t *testing.T) {
	env := validEnv()
	env["STRIPE_API_KEY"] = "secret://stripe-api-key"

	if _, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(env)); err == nil {
		t.Fatal("expected error for unresolvable secret reference")
	}
}

func TestLoadReadsDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "STORE_NAME=Curry Leaf\nTRACKING_BASE_URL=https://orders.example.com\n# comment\nFIRESTORE_PROJECT_ID=\"curryleaf-dev\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(path))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Firestore.ProjectID != "curryleaf-dev" {
		t.Fatalf("project = %q", cfg.Firestore.ProjectID)
	}
	if cfg.Store.Name != "Curry Leaf" {
		t.Fatalf("store name = %q", cfg.Store.Name)
	}
}
