package remote

import "testing"

func TestValidateToken(t *testing.T) {
	for _, tt := range []struct {
		token   string
		wantErr bool
	}{
		{"secret_abc123", false},
		{"svcacct_abc123", false},
		{"sk-not-accepted", true},
		{"", true},
	} {
		err := ValidateToken(tt.token)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateToken(%q) error = %v, wantErr %v", tt.token, err, tt.wantErr)
		}
	}
}

func TestValidateDatabaseURL(t *testing.T) {
	for _, tt := range []struct {
		name       string
		url        string
		wantDBID   string
		wantErr    bool
	}{
		{"valid database URL", "https://" + AllowedHost + "/databases/db123", "db123", false},
		{"wrong scheme", "ftp://" + AllowedHost + "/databases/db123", "", true},
		{"wrong host", "https://evil.example.com/databases/db123", "", true},
		{"page URL, not a database", "https://" + AllowedHost + "/pages/page123", "", true},
		{"no path", "https://" + AllowedHost + "/", "", true},
		{"malformed", "://bad-url", "", true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateDatabaseURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateDatabaseURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
			if err == nil && got != tt.wantDBID {
				t.Errorf("ValidateDatabaseURL(%q) = %q, want %q", tt.url, got, tt.wantDBID)
			}
		})
	}
}

func TestNewHTTPClient_RejectsBadTokenBeforeURL(t *testing.T) {
	_, err := NewHTTPClient("not a url at all", "bad-token", DefaultRetryConfig())
	if err == nil {
		t.Fatal("expected an error for an invalid token")
	}
}

func TestNewHTTPClient_ValidInputsSucceed(t *testing.T) {
	client, err := NewHTTPClient("https://"+AllowedHost+"/databases/db123", "secret_abc", DefaultRetryConfig())
	if err != nil {
		t.Fatalf("NewHTTPClient failed: %v", err)
	}
	if client.databaseID != "db123" {
		t.Errorf("databaseID = %q, want db123", client.databaseID)
	}
	if client.baseURL != "https://"+AllowedHost {
		t.Errorf("baseURL = %q", client.baseURL)
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	if cfg.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", cfg.MaxRetries)
	}
	if cfg.WritesPerSecond != 3 {
		t.Errorf("WritesPerSecond = %v, want 3", cfg.WritesPerSecond)
	}
}
