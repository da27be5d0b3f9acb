package dbtypes

import (
	"testing"

	"github.com/google/uuid"
)

func TestUUIDArrayValueAndScan(t *testing.T) {
	a := uuid.MustParse("7b0c7e5a-8a37-4a6f-9c6b-1f4d0a3c2e11")
	b := uuid.MustParse("0f1e2d3c-4b5a-4968-8776-655443322110")

	value, err := UUIDArray{a, b}.Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	literal, ok := value.(string)
	if !ok || literal != "{"+a.String()+","+b.String()+"}" {
		t.Fatalf("unexpected literal %v", value)
	}

	var scanned UUIDArray
	if err := scanned.Scan([]byte(literal)); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(scanned) != 2 || scanned[0] != a || scanned[1] != b {
		t.Fatalf("unexpected scan result %v", scanned)
	}
}

func TestUUIDArrayEmpty(t *testing.T) {
	value, err := UUIDArray{}.Value()
	if err != nil || value != "{}" {
		t.Fatalf("expected empty literal, got %v err=%v", value, err)
	}
	var scanned UUIDArray
	if err := scanned.Scan(nil); err != nil || len(scanned) != 0 {
		t.Fatalf("expected empty array from nil, got %v err=%v", scanned, err)
	}
	if err := scanned.Scan(42); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}

func TestUUIDArrayScansQuotedLiteral(t *testing.T) {
	a := uuid.MustParse("7b0c7e5a-8a37-4a6f-9c6b-1f4d0a3c2e11")
	var scanned UUIDArray
	if err := scanned.Scan(`{"` + a.String() + `"}`); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(scanned) != 1 || scanned[0] != a {
		t.Fatalf("unexpected scan result %v", scanned)
	}
	if err := scanned.Scan("{not-a-uuid}"); err == nil {
		t.Fatal("expected parse error")
	}
}
