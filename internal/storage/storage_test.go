package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReceiptKey(t *testing.T) {
	at := time.Date(2026, time.March, 7, 23, 30, 0, 0, time.FixedZone("X", -2*3600))
	// 23:30 at -02:00 is the next day in UTC.
	assert.Equal(t, "receipts/2026/03/08/ord-1.json", ReceiptKey("ord-1", at))
}
