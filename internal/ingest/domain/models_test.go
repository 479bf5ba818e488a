package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/datatypes"
)

func TestKindEventType(t *testing.T) {
	assert.Equal(t, "resources.bulk", KindResources.EventType())
	assert.Equal(t, "recommendations.bulk", KindRecommendations.EventType())
	assert.False(t, Kind("usage").Valid())
}

func TestCostRecordNaturalKeyUsesCalendarDay(t *testing.T) {
	c := &CostRecord{
		OrganizationID: "O",
		CloudAccountID: "acct",
		Provider:       ProviderAWS,
		ServiceName:    "EC2",
		Region:         "us-east-1",
		CostDate:       datatypes.Date(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)),
	}
	assert.Equal(t, "O|acct|aws|EC2|us-east-1|2024-03-01", c.NaturalKey())
}

func TestBatchErrorsUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	aborted := &AbortedBatchError{BatchID: "b1", Cause: cause}
	assert.ErrorIs(t, aborted, ErrBatchAborted)
	assert.ErrorIs(t, aborted, cause)

	rejected := &RejectedBatchError{Errors: []RowError{{Index: 0, Message: "region is required"}}}
	assert.ErrorIs(t, rejected, ErrAllRowsRejected)
	assert.Equal(t, 0, rejected.Result().Inserted)
	assert.Len(t, rejected.Result().Errors, 1)
}
