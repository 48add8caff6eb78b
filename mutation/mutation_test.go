package mutation

import "testing"

func TestBatchMarshalRoundtrip(t *testing.T) {
	b := &Batch{
		ID:      "01234567-89ab-cdef-0123-456789abcdef",
		PageURL: "https://example.com",
		PageID:  "page-1",
		Seq:     42,
		Records: []Record{
			{Op: OpInsert, Selector: "/html/body/div", Tag: "div", HTML: "<div>hello</div>"},
			{Op: OpAttr, Selector: "/html/body/div", Name: "class", Value: "new", OldValue: "old"},
			{Op: OpText, Selector: "/html/body/div", Value: "world", OldValue: "hello"},
			{Op: OpRemove, Selector: "/html/body/div/span"},
		},
		Timestamp:   1708700000000,
		SnapshotRef: "snap-1",
	}

	data, err := MarshalBatch(b)
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalBatch(data)
	if err != nil {
		t.Fatal(err)
	}

	if got.ID != b.ID || got.Seq != b.Seq {
		t.Errorf("got ID=%q Seq=%d", got.ID, got.Seq)
	}
	if len(got.Records) != len(b.Records) {
		t.Fatalf("Records: got %d, want %d", len(got.Records), len(b.Records))
	}
	for i, r := range got.Records {
		if r.Op != b.Records[i].Op {
			t.Errorf("Record[%d].Op: got %q, want %q", i, r.Op, b.Records[i].Op)
		}
	}
}

func TestBatchValidate(t *testing.T) {
	tests := []struct {
		name    string
		batch   Batch
		wantErr bool
	}{
		{"ok", Batch{ID: "b1", PageID: "p1", Records: []Record{{Op: OpAttr, Selector: "//div", Name: "class"}}}, false},
		{"empty page", Batch{ID: "b1", Records: []Record{{Op: OpAttr, Selector: "//div"}}}, true},
		{"unknown op", Batch{ID: "b1", PageID: "p1", Records: []Record{{Op: "mutate", Selector: "//div"}}}, true},
		{"empty selector", Batch{ID: "b1", PageID: "p1", Records: []Record{{Op: OpRemove}}}, true},
		{"doc_reset needs no selector", Batch{ID: "b1", PageID: "p1", Records: []Record{{Op: OpDocReset}}}, false},
		{"no records", Batch{ID: "b1", PageID: "p1"}, false},
	}
	for _, tt := range tests {
		err := tt.batch.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestHashHTML(t *testing.T) {
	html := []byte("<html><body>test</body></html>")
	h1 := HashHTML(html)
	h2 := HashHTML(html)
	if h1 != h2 {
		t.Errorf("HashHTML not deterministic: %q != %q", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("HashHTML length: got %d, want 64", len(h1))
	}
}
