package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gharsathi/internal/models"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Bookings"

// Headers are the column titles shared by every booking table.
var Headers = []string{
	"Booking", "Status", "User", "Provider", "Service", "Start",
	"Duration, h", "Actual, h", "Charge", "Materials", "Additional",
	"Total", "Payment", "Method", "Created", "Updated",
}

// WriteBookings renders bookings as an xlsx workbook into w.
func WriteBookings(w io.Writer, bookings []*models.Booking) error {
	f, err := build(bookings)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

// SaveBookings writes the workbook into dir and returns the file path.
func SaveBookings(dir string, bookings []*models.Booking, now time.Time) (string, error) {
	// Создаем папку для экспорта, если не существует
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f, err := build(bookings)
	if err != nil {
		return "", err
	}
	defer f.Close()

	filePath := filepath.Join(dir, fmt.Sprintf("bookings_%s.xlsx", now.Format("2006-01-02_15-04-05")))
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}
	return filePath, nil
}

func build(bookings []*models.Booking) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, h := range Headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	moneyStyle, _ := f.NewStyle(&excelize.Style{NumFmt: 4})

	for i, b := range bookings {
		row := i + 2
		values := RowValues(b)
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheetName, cell, v)
		}

		from, _ := excelize.CoordinatesToCellName(9, row)
		to, _ := excelize.CoordinatesToCellName(12, row)
		_ = f.SetCellStyle(sheetName, from, to, moneyStyle)
		if fill := statusFill(b.Status); fill != "" {
			style, err := f.NewStyle(&excelize.Style{
				Fill: excelize.Fill{Type: "pattern", Color: []string{fill}, Pattern: 1},
			})
			if err == nil {
				cell, _ := excelize.CoordinatesToCellName(2, row)
				_ = f.SetCellStyle(sheetName, cell, cell, style)
			}
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 18)
	_ = f.SetColWidth(sheetName, "B", "E", 16)
	_ = f.SetColWidth(sheetName, "F", "F", 18)
	_ = f.SetColWidth(sheetName, "G", "N", 12)
	_ = f.SetColWidth(sheetName, "O", "P", 18)
	_ = f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	// Удаляем стандартный лист
	_ = f.DeleteSheet("Sheet1")
	return f, nil
}

// RowValues flattens a booking into one table row in Headers order.
func RowValues(b *models.Booking) []interface{} {
	actual := ""
	if b.ActualDuration != nil {
		actual = fmt.Sprintf("%.2f", *b.ActualDuration)
	}
	return []interface{}{
		b.BookingID,
		string(b.Status),
		b.UserID,
		b.ProviderID,
		b.ServiceType,
		b.StartTime.Format("02.01.2006 15:04"),
		b.DurationInHours,
		actual,
		b.Charge,
		b.MaterialsCost,
		b.AdditionalCharge,
		b.TotalCharge,
		string(b.PaymentStatus),
		string(b.PaymentMethod),
		b.CreatedAt.Format("02.01.2006 15:04"),
		b.UpdatedAt.Format("02.01.2006 15:04"),
	}
}

// statusFill: зелёный для оплаченных, жёлтый для ожидающих, красный для отменённых
func statusFill(s models.Status) string {
	switch s {
	case models.StatusPaid, models.StatusReviewed:
		return "#C6EFCE"
	case models.StatusPending, models.StatusCompletedByUser, models.StatusCompletedByProvider, models.StatusCompleted:
		return "#FFEB9C"
	case models.StatusCancelled, models.StatusDeclined:
		return "#FFC7CE"
	}
	return ""
}
