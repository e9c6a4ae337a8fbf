package storage

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"erpsync/internal/records"
)

type fakeRepo struct{ closed int }

func (f *fakeRepo) Query(context.Context, string, Params) (records.Set, error) {
	return records.Set{}, nil
}
func (f *fakeRepo) Begin(context.Context) (Tx, error) { return nil, nil }
func (f *fakeRepo) Close()                            { f.closed++ }

func TestRegisterAndNew(t *testing.T) {
	want := &fakeRepo{}
	Register("fake-test", func(ctx context.Context, cfg Config) (Repository, error) {
		if cfg.DSN != "dsn" {
			t.Fatalf("dsn not passed through: %q", cfg.DSN)
		}
		return want, nil
	})

	got, err := New(context.Background(), Config{Kind: "fake-test", DSN: "dsn"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got != want {
		t.Fatalf("unexpected repository %#v", got)
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty kind")
	}
	_, err := New(context.Background(), Config{Kind: "nope"})
	if err == nil || !strings.Contains(err.Error(), "unsupported kind=nope") {
		t.Fatalf("expected unsupported kind error, got %v", err)
	}
}

func TestRegister_PanicsOnDuplicate(t *testing.T) {
	f := func(context.Context, Config) (Repository, error) { return nil, nil }
	Register("dup-test", f)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate registration")
		}
	}()
	Register("dup-test", f)
}

func TestSplitAndQualify(t *testing.T) {
	t.Parallel()

	s, tbl := SplitQualifiedName(" public . catalogo ")
	if s != "public" || tbl != "catalogo" {
		t.Fatalf("got %q %q", s, tbl)
	}
	s, tbl = SplitQualifiedName("catalogo")
	if s != "" || tbl != "catalogo" {
		t.Fatalf("got %q %q", s, tbl)
	}
	if got := QualifiedName("", "x"); got != "x" {
		t.Fatalf("got %q", got)
	}
	if got := QualifiedName("dbo", "x"); got != "dbo.x" {
		t.Fatalf("got %q", got)
	}
}

func TestNonKeyColumnsAndParams(t *testing.T) {
	t.Parallel()

	got := NonKeyColumns([]string{"a", "k", "b"}, []string{"k"})
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("got %#v", got)
	}

	p := Params{"z": 1, "a": nil}
	if !reflect.DeepEqual(p.Names(), []string{"a", "z"}) {
		t.Fatalf("names %#v", p.Names())
	}
	if n := len(NamedArgs(p)); n != 2 {
		t.Fatalf("expected 2 named args, got %d", n)
	}
	if NamedArgs(nil) != nil {
		t.Fatalf("expected nil args for empty params")
	}
}
