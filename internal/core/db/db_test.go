package db

import "testing"

func TestDataSourceFromURL(t *testing.T) {
	tests := []struct {
		url        string
		wantDriver string
		wantDSN    string
		wantErr    bool
	}{
		{"sqlite://rules.db", "sqlite3", "rules.db?_foreign_keys=on&_busy_timeout=5000", false},
		{"sqlite://data/rules.db", "sqlite3", "data/rules.db?_foreign_keys=on&_busy_timeout=5000", false},
		{"sqlite:///var/lib/rules.db", "sqlite3", "/var/lib/rules.db?_foreign_keys=on&_busy_timeout=5000", false},
		{"postgres://u:p@localhost:5432/rules?sslmode=disable", "postgres", "postgres://u:p@localhost:5432/rules?sslmode=disable", false},
		{"sqlite://", "", "", true},
		{"mysql://localhost/rules", "", "", true},
		{"://bad", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			driver, dsn, err := dataSourceFromURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("dataSourceFromURL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if driver != tt.wantDriver || dsn != tt.wantDSN {
				t.Errorf("dataSourceFromURL() = %s, %s, want %s, %s", driver, dsn, tt.wantDriver, tt.wantDSN)
			}
		})
	}
}
