package main

import (
	"testing"

	"kitchenops/backend/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}

	err = validateSecurityConfig(config.Config{
		AuthSecret:         "0123456789abcdef0123456789abcdef",
		BootstrapAdminPass: "admin123",
	})
	if err == nil {
		t.Fatalf("expected weak bootstrap password to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{
		AuthSecret:         "0123456789abcdef0123456789abcdef",
		DatabaseURL:        "postgres://kitchen@localhost/kitchenops",
		BootstrapAdminPass: "correct-horse-battery",
	})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}

	// the bootstrap password is optional
	if err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef"}); err != nil {
		t.Fatalf("expected config without bootstrap password to pass, got %v", err)
	}
}
