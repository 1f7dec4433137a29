package export

import (
	"bytes"
	"testing"
	"time"

	"gharsathi/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleBookings() []*models.Booking {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	actual := 3.0
	return []*models.Booking{
		{
			BookingID: "BK-2", UserID: "u-1", ProviderID: "p-1", ServiceType: "plumbing",
			StartTime: created.Add(time.Hour), DurationInHours: 2, ActualDuration: &actual,
			Charge: 600, TotalCharge: 600, Status: models.StatusPaid,
			PaymentStatus: models.PaymentCompleted, PaymentMethod: models.PaymentMethodEsewa,
			CreatedAt: created, UpdatedAt: created,
		},
		{
			BookingID: "BK-1", UserID: "u-2", ProviderID: "p-1", ServiceType: "electrical",
			StartTime: created, DurationInHours: 1, Charge: 200, TotalCharge: 200,
			Status: models.StatusCancelled, PaymentStatus: models.PaymentPending, PaymentMethod: models.PaymentMethodNone,
			CreatedAt: created, UpdatedAt: created,
		},
	}
}

func TestWriteBookings(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteBookings(&buf, sampleBookings()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{sheetName}, f.GetSheetList())

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Headers, rows[0])
	assert.Equal(t, "BK-2", rows[1][0])
	assert.Equal(t, "paid", rows[1][1])
	assert.Equal(t, "3.00", rows[1][7])
	assert.Equal(t, "BK-1", rows[2][0])
	assert.Equal(t, "cancelled", rows[2][1])
}

func TestWriteBookingsEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteBookings(&buf, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestSaveBookings(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)

	path, err := SaveBookings(dir, sampleBookings(), now)
	require.NoError(t, err)
	assert.Contains(t, path, "bookings_2026-03-02_10-30-00.xlsx")

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	v, err := f.GetCellValue(sheetName, "A2")
	require.NoError(t, err)
	assert.Equal(t, "BK-2", v)
}

func TestStatusFill(t *testing.T) {
	assert.Equal(t, "#C6EFCE", statusFill(models.StatusPaid))
	assert.Equal(t, "#FFC7CE", statusFill(models.StatusDeclined))
	assert.Empty(t, statusFill(models.StatusAccepted))
}
