package storage

import (
	"context"
	"testing"
)

type fakeRepo struct {
	cfg Config
}

func (f *fakeRepo) Close() {}
func (f *fakeRepo) EnsureSchema(ctx context.Context, tables []TableSpec) error {
	return nil
}
func (f *fakeRepo) InsertDimensionRows(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) error {
	return nil
}
func (f *fakeRepo) SelectKeyValueByKeys(ctx context.Context, table, keyColumn, valueColumn string, keys []any) (map[string]int64, error) {
	return nil, nil
}
func (f *fakeRepo) SelectAllKeyValue(ctx context.Context, table, keyColumn, valueColumn string) (map[string]int64, error) {
	return nil, nil
}
func (f *fakeRepo) InsertFactRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	return 0, nil
}

func fakeFactory(ctx context.Context, cfg Config) (Repository, error) {
	return &fakeRepo{cfg: cfg}, nil
}

func TestNewSelectsRegisteredFactory(t *testing.T) {
	Register("fake-select", fakeFactory)

	repo, err := New(context.Background(), Config{Kind: "fake-select", DSN: "dsn-here"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fr, ok := repo.(*fakeRepo)
	if !ok {
		t.Fatalf("repo = %T, want *fakeRepo", repo)
	}
	if fr.cfg.DSN != "dsn-here" {
		t.Fatalf("DSN = %q, want passed through", fr.cfg.DSN)
	}
}

func TestNewRejectsUnknownKind(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty kind")
	}
	if _, err := New(context.Background(), Config{Kind: "no-such-backend"}); err == nil {
		t.Fatalf("expected error for unregistered kind")
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate registration")
		}
	}()
	Register("fake-dup", fakeFactory)
	Register("fake-dup", fakeFactory)
}

func TestRegisterRejectsBadInputs(t *testing.T) {
	for name, fn := range map[string]func(){
		"empty kind":  func() { Register("", fakeFactory) },
		"nil factory": func() { Register("fake-nil", nil) },
	} {
		func() {
			defer func() {
				if recover() == nil {
					t.Fatalf("%s: expected panic", name)
				}
			}()
			fn()
		}()
	}
}

func TestNormalizeKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"00000123", "00000123"},
		{" 202301 ", "202301"},
		{int64(2023), "2023"},
		{2023, "2023"},
		{[]byte(" 42 "), "42"},
	}
	for _, tc := range tests {
		if got := NormalizeKey(tc.in); got != tc.want {
			t.Errorf("NormalizeKey(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
