package storage

import "testing"

func TestListOptionsNormalizeDefaults(t *testing.T) {
	o := ListOptions{}
	o.Normalize()
	if o.Page != 1 {
		t.Fatalf("expected default page 1, got %d", o.Page)
	}
	if o.PageSize != 10 {
		t.Fatalf("expected default page size 10, got %d", o.PageSize)
	}
}

func TestListOptionsNormalizeCapsPageSize(t *testing.T) {
	o := ListOptions{PageSize: 500}
	o.Normalize()
	if o.PageSize != 100 {
		t.Fatalf("expected page size capped at 100, got %d", o.PageSize)
	}
}

func TestListOptionsOffset(t *testing.T) {
	o := ListOptions{Page: 3, PageSize: 10}
	o.Normalize()
	if got := o.Offset(); got != 20 {
		t.Fatalf("expected offset 20, got %d", got)
	}
}
