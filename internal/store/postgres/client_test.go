package postgres

import "testing"

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{
			"explicit dsn wins",
			ClientConfig{DSN: "postgres://u:p@h:5432/db", Host: "ignored"},
			"postgres://u:p@h:5432/db",
		},
		{
			"built from fields",
			ClientConfig{Host: "localhost", Port: 5433, Database: "xtools", User: "app", Password: "pw", SSLMode: "require"},
			"postgres://app:pw@localhost:5433/xtools?sslmode=require",
		},
		{
			"defaults applied",
			ClientConfig{Host: "localhost", Database: "xtools", User: "app"},
			"postgres://app:@localhost:5432/xtools?sslmode=disable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DSN(tt.cfg); got != tt.want {
				t.Errorf("DSN = %q, want %q", got, tt.want)
			}
		})
	}
}
