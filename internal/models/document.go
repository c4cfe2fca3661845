package models

import "time"

// Document names. Each is persisted as a whole JSON value.
const (
	DocumentKeys      = "keys"
	DocumentUsage     = "usage"
	DocumentIPRecords = "ip_records"
)

// DateLayout is the calendar-day format used by usage and ledger entries.
const DateLayout = "2006-01-02"

// UsageRecord holds the counters for the most recently written day.
type UsageRecord struct {
	Date        string `json:"date"`
	Count       int    `json:"count"`
	VerifyCount int    `json:"verifyCount"`
}

// NewUsageRecord returns a zeroed record for the day containing now.
func NewUsageRecord(now time.Time) UsageRecord {
	return UsageRecord{Date: now.Format(DateLayout)}
}

// IsCurrent reports whether the record belongs to the day containing now.
func (u UsageRecord) IsCurrent(now time.Time) bool {
	return u.Date == now.Format(DateLayout)
}

// IPLedger records every address that has ever been given a key.
type IPLedger struct {
	Records map[string]IPRecord `json:"records"`
}

type IPRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Date      string    `json:"date"`
}

func NewIPLedger() IPLedger {
	return IPLedger{Records: make(map[string]IPRecord)}
}

// Has reports whether addr already has an entry.
func (l IPLedger) Has(addr string) bool {
	_, ok := l.Records[addr]
	return ok
}

// AllocateRequest is the optional body of an allocation call. IP is only
// honoured when the server is configured to trust body-supplied addresses.
type AllocateRequest struct {
	IP string `json:"ip"`
}

type VerifyRequest struct {
	Key string `json:"key"`
}
