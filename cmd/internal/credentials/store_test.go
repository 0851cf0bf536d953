package credentials

import (
	"errors"
	"testing"
)

func TestBackendForDSN(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    Backend
		wantErr bool
	}{
		{in: "postgres://u:p@localhost:5432/db", want: BackendPostgres},
		{in: "postgresql://localhost/db", want: BackendPostgres},
		{in: "redis://localhost:6379/0", want: BackendRedis},
		{in: "REDISS://cache:6380", want: BackendRedis},
		{in: "mysql://localhost/db", wantErr: true},
		{in: "/etc/clients.txt", wantErr: true},
	}

	for _, tc := range cases {
		got, err := BackendForDSN(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrUnsupportedDSN) {
				t.Fatalf("BackendForDSN(%q) err=%v want ErrUnsupportedDSN", tc.in, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("BackendForDSN(%q)=%q,%v want=%q", tc.in, got, err, tc.want)
		}
	}
}
