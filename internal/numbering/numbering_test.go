package numbering

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	require.Equal(t, "JE-2026-00042", Format("JE", 2026, 42))
	require.Equal(t, "PAY-2026-12345", Format("PAY", 2026, 12345))
}

func TestDefaultPrefix(t *testing.T) {
	require.Equal(t, "JE", defaultPrefix(DocTypeJournalEntry))
	require.Equal(t, "PAY", defaultPrefix(DocTypePayment))
	require.Equal(t, "DOC", defaultPrefix("something_else"))
}
