package billing

import (
	"testing"
	"time"

	"github.com/billingapp/backend/internal/domain/shared/valueobject"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustMoney(t *testing.T, amount string, currency valueobject.Currency) valueobject.Money {
	t.Helper()
	m, err := valueobject.NewMoneyFromString(amount, currency)
	require.NoError(t, err)
	return m
}

func TestNewBillingRecord(t *testing.T) {
	t.Run("creates a pending record", func(t *testing.T) {
		record, err := NewBillingRecord("cust-1", "prod-1", mustMoney(t, "100.00", valueobject.USD))
		require.NoError(t, err)

		assert.NotEmpty(t, record.ID)
		assert.Equal(t, "cust-1", record.CustomerID)
		assert.Equal(t, "prod-1", record.ProductID)
		assert.Equal(t, StatusPending, record.Status)
		assert.Equal(t, 0, record.RetryCount)
		assert.Empty(t, record.ErrorMessage)
		assert.False(t, record.CreatedAt.IsZero())
		assert.Equal(t, record.CreatedAt, record.UpdatedAt)
	})

	t.Run("rejects missing customer id", func(t *testing.T) {
		_, err := NewBillingRecord("", "prod-1", mustMoney(t, "1", valueobject.USD))
		assert.Error(t, err)
	})

	t.Run("rejects missing product id", func(t *testing.T) {
		_, err := NewBillingRecord("cust-1", "", mustMoney(t, "1", valueobject.USD))
		assert.Error(t, err)
	})
}

func TestBillingRecord_Transitions(t *testing.T) {
	t.Run("pending to processing to completed", func(t *testing.T) {
		record, err := NewBillingRecord("cust-1", "prod-1", mustMoney(t, "10", valueobject.USD))
		require.NoError(t, err)

		require.NoError(t, record.MarkProcessing())
		assert.Equal(t, StatusProcessing, record.Status)

		require.NoError(t, record.MarkCompleted())
		assert.Equal(t, StatusCompleted, record.Status)
		assert.True(t, record.IsTerminal())
	})

	t.Run("cannot start processing from non-pending status", func(t *testing.T) {
		for _, status := range []Status{StatusProcessing, StatusCompleted, StatusFailed} {
			record := &BillingRecord{Status: status}
			assert.Error(t, record.MarkProcessing(), "status %s", status)
		}
	})

	t.Run("cannot complete a record that is not processing", func(t *testing.T) {
		for _, status := range []Status{StatusPending, StatusCompleted, StatusFailed} {
			record := &BillingRecord{Status: status}
			assert.Error(t, record.MarkCompleted(), "status %s", status)
		}
	})
}

func TestBillingRecord_RecordFailure(t *testing.T) {
	t.Run("increments retry count exactly once per attempt", func(t *testing.T) {
		record, err := NewBillingRecord("cust-1", "prod-1", mustMoney(t, "10", valueobject.USD))
		require.NoError(t, err)
		require.NoError(t, record.MarkProcessing())

		terminal := record.RecordFailure(3, "processing failed")
		assert.False(t, terminal)
		assert.Equal(t, 1, record.RetryCount)
		assert.Equal(t, StatusPending, record.Status)
		assert.Equal(t, "processing failed", record.ErrorMessage)
	})

	t.Run("fails terminally once retry count reaches the maximum", func(t *testing.T) {
		record, err := NewBillingRecord("cust-1", "prod-1", mustMoney(t, "10", valueobject.USD))
		require.NoError(t, err)

		for attempt := 1; attempt <= 3; attempt++ {
			require.NoError(t, record.MarkProcessing())
			terminal := record.RecordFailure(3, "boom")
			assert.Equal(t, attempt, record.RetryCount)
			if attempt < 3 {
				assert.False(t, terminal)
				assert.Equal(t, StatusPending, record.Status)
				assert.Equal(t, "boom", record.ErrorMessage)
			} else {
				assert.True(t, terminal)
				assert.Equal(t, StatusFailed, record.Status)
			}
		}
		assert.True(t, record.IsTerminal())
		assert.Equal(t, "failed after 3 retries: boom", record.ErrorMessage)
	})

	t.Run("the final message lands with the terminal transition", func(t *testing.T) {
		record, err := NewBillingRecord("cust-1", "prod-1", mustMoney(t, "10", valueobject.USD))
		require.NoError(t, err)
		record.RetryCount = 2
		require.NoError(t, record.MarkProcessing())

		previous := record.UpdatedAt
		terminal := record.RecordFailure(3, "boom")
		assert.True(t, terminal)
		assert.Equal(t, "failed after 3 retries: boom", record.ErrorMessage)
		assert.True(t, record.UpdatedAt.After(previous))
	})
}

func TestBillingRecord_UpdatedAtMonotonic(t *testing.T) {
	record, err := NewBillingRecord("cust-1", "prod-1", mustMoney(t, "10", valueobject.USD))
	require.NoError(t, err)

	previous := record.UpdatedAt
	require.NoError(t, record.MarkProcessing())
	assert.True(t, record.UpdatedAt.After(previous))

	previous = record.UpdatedAt
	record.RecordFailure(3, "err")
	assert.True(t, record.UpdatedAt.After(previous))
}

func TestBillingRecord_AddMetadata(t *testing.T) {
	record := &BillingRecord{}
	record.AddMetadata("source", "loadgen")
	assert.Equal(t, "loadgen", record.Metadata["source"])
}

func TestBillingRecord_TouchResolution(t *testing.T) {
	// Even if two mutations land within the clock resolution the
	// timestamp still advances.
	record := &BillingRecord{UpdatedAt: time.Now().UTC().Add(time.Hour)}
	before := record.UpdatedAt
	record.touch()
	assert.True(t, record.UpdatedAt.After(before))
}
