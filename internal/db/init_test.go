package db

import (
	"strings"
	"testing"
)

func TestInitPostgres_BadDSN(t *testing.T) {
	_, err := InitPostgres("not a dsn ::: %%")
	if err == nil {
		t.Fatal("expected an error for an invalid DSN")
	}
}

func TestInitPostgres_Unreachable(t *testing.T) {
	_, err := InitPostgres("host=127.0.0.1 port=1 user=x dbname=x sslmode=disable connect_timeout=1")
	if err == nil {
		t.Fatal("expected an error for an unreachable server")
	}
	if !strings.Contains(err.Error(), "ping postgres") {
		t.Errorf("expected ping error, got: %v", err)
	}
}
