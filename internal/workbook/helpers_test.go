package workbook

import (
	"bytes"
	"testing"

	"github.com/xuri/excelize/v2"
)

func mustBuffer(t *testing.T, f *excelize.File) *bytes.Buffer {
	t.Helper()
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}
	_ = f.Close()
	return buf
}
