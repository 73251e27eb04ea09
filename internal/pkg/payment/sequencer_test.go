package payment

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/davidkroell/SpotRush/app/models"
)

type fakeRunRepo struct {
	run *models.RegistrationRun
}

func (f *fakeRunRepo) Create(run *models.RegistrationRun) error { return nil }
func (f *fakeRunRepo) GetByUUID(uuid string) (*models.RegistrationRun, error) {
	if f.run != nil && f.run.UUID == uuid {
		return f.run, nil
	}
	return nil, gorm.ErrRecordNotFound
}
func (f *fakeRunRepo) Update(run *models.RegistrationRun) error               { return nil }
func (f *fakeRunRepo) SetStatus(runUUID, status string) error                 { return nil }
func (f *fakeRunRepo) CASStatus(runUUID, from, to string) (bool, error)       { return false, nil }
func (f *fakeRunRepo) HasActiveRun(userID uint, planKey string) (bool, error) { return false, nil }
func (f *fakeRunRepo) UpdateItem(item *models.RegistrationItem) error         { return nil }

type fakeUserRepo struct {
	user *models.User
}

func (f *fakeUserRepo) Create(u *models.User) error                    { return nil }
func (f *fakeUserRepo) GetByID(id uint) (*models.User, error)          { return f.user, nil }
func (f *fakeUserRepo) GetByEmail(email string) (*models.User, error)  { return f.user, nil }
func (f *fakeUserRepo) GetByAPIKeyHash(h string) (*models.User, error) { return f.user, nil }
func (f *fakeUserRepo) Update(u *models.User) error                    { return nil }

type fakeChargeRepo struct {
	charges []models.PaymentCharge
}

func (f *fakeChargeRepo) Create(c *models.PaymentCharge) error {
	f.charges = append(f.charges, *c)
	return nil
}

func (f *fakeChargeRepo) ListByRun(runUUID string) ([]models.PaymentCharge, error) {
	return f.charges, nil
}

func (f *fakeChargeRepo) ExistsForRunAndType(runUUID, chargeType string) (bool, error) {
	for _, c := range f.charges {
		if c.RunUUID == runUUID && c.ChargeType == chargeType {
			return true, nil
		}
	}
	return false, nil
}

type fakeProcessor struct {
	declineAmt int64
	calls      []int64
	nextID     int
}

func (f *fakeProcessor) ChargeOffSession(ctx context.Context, customerRef, methodRef string, amountCents int64, description string) (string, error) {
	f.calls = append(f.calls, amountCents)
	f.nextID++
	if f.declineAmt != 0 && amountCents == f.declineAmt {
		return "", errors.New("charge declined: insufficient funds")
	}
	return "ch_" + strconv.Itoa(f.nextID), nil
}

func succeededRun() *models.RegistrationRun {
	return &models.RegistrationRun{
		UUID:   "run-1",
		UserID: 1,
		Status: models.RunStatusSucceeded,
		Items: []models.RegistrationItem{
			{Status: models.ItemStatusAdded, Session: models.ActivitySession{UpfrontFeeCents: 12000}},
			{Status: models.ItemStatusFailed, Session: models.ActivitySession{UpfrontFeeCents: 9000}},
		},
	}
}

func payingUser(priority bool) *models.User {
	return &models.User{
		PaymentCustomerRef: "cus_1",
		PaymentMethodRef:   "pm_1",
		PriorityFeeOptIn:   priority,
	}
}

func TestSettleFullSequence(t *testing.T) {
	charges := &fakeChargeRepo{}
	proc := &fakeProcessor{}
	seq := NewSequencer(&fakeRunRepo{run: succeededRun()}, &fakeUserRepo{user: payingUser(true)}, charges, proc)

	recorded, err := seq.Settle(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, recorded, 3)

	assert.Equal(t, models.ChargeTypeUpfront, recorded[0].ChargeType)
	// Only the item that got a spot is charged for.
	assert.Equal(t, int64(12000), recorded[0].AmountCents)
	assert.Equal(t, models.ChargeTypeSuccessFee, recorded[1].ChargeType)
	assert.Equal(t, int64(1500), recorded[1].AmountCents)
	assert.Equal(t, models.ChargeTypePriorityFee, recorded[2].ChargeType)
	assert.Equal(t, int64(500), recorded[2].AmountCents)
	for _, c := range recorded {
		assert.Equal(t, models.ChargeStatusSucceeded, c.Status)
		assert.NotEmpty(t, c.ExternalChargeID)
	}
}

func TestSettleWithoutPriorityOptIn(t *testing.T) {
	charges := &fakeChargeRepo{}
	seq := NewSequencer(&fakeRunRepo{run: succeededRun()}, &fakeUserRepo{user: payingUser(false)}, charges, &fakeProcessor{})

	recorded, err := seq.Settle(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, recorded, 2)
	assert.Equal(t, models.ChargeTypeUpfront, recorded[0].ChargeType)
	assert.Equal(t, models.ChargeTypeSuccessFee, recorded[1].ChargeType)
}

func TestSettleDeclineDoesNotBlockLaterCharges(t *testing.T) {
	charges := &fakeChargeRepo{}
	proc := &fakeProcessor{declineAmt: 12000}
	seq := NewSequencer(&fakeRunRepo{run: succeededRun()}, &fakeUserRepo{user: payingUser(true)}, charges, proc)

	recorded, err := seq.Settle(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, recorded, 3)

	assert.Equal(t, models.ChargeStatusFailed, recorded[0].Status)
	assert.Contains(t, recorded[0].ErrorMsg, "insufficient funds")
	assert.Equal(t, models.ChargeStatusSucceeded, recorded[1].Status)
	assert.Equal(t, models.ChargeStatusSucceeded, recorded[2].Status)
}

func TestSettleIsIdempotent(t *testing.T) {
	charges := &fakeChargeRepo{}
	proc := &fakeProcessor{}
	seq := NewSequencer(&fakeRunRepo{run: succeededRun()}, &fakeUserRepo{user: payingUser(true)}, charges, proc)

	first, err := seq.Settle(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, first, 3)

	second, err := seq.Settle(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.Len(t, proc.calls, 3)
}

func TestSettleRequiresSuccessfulRun(t *testing.T) {
	run := succeededRun()
	run.Status = models.RunStatusFailed
	seq := NewSequencer(&fakeRunRepo{run: run}, &fakeUserRepo{user: payingUser(false)}, &fakeChargeRepo{}, &fakeProcessor{})

	_, err := seq.Settle(context.Background(), "run-1")
	assert.ErrorIs(t, err, ErrRunNotSettleable)
}

func TestSettleRequiresPaymentMethod(t *testing.T) {
	charges := &fakeChargeRepo{}
	proc := &fakeProcessor{}
	seq := NewSequencer(&fakeRunRepo{run: succeededRun()}, &fakeUserRepo{user: &models.User{}}, charges, proc)

	recorded, err := seq.Settle(context.Background(), "run-1")
	assert.ErrorIs(t, err, ErrNoPaymentMethod)
	assert.Empty(t, proc.calls)

	// The owed charges are recorded as failed so the outcome survives.
	require.Len(t, recorded, 2)
	require.Len(t, charges.charges, 2)
	for _, c := range charges.charges {
		assert.Equal(t, models.ChargeStatusFailed, c.Status)
		assert.Equal(t, "no payment method on file", c.ErrorMsg)
		assert.Empty(t, c.ExternalChargeID)
	}
	assert.Equal(t, models.ChargeTypeUpfront, charges.charges[0].ChargeType)
	assert.Equal(t, models.ChargeTypeSuccessFee, charges.charges[1].ChargeType)
}

func TestSettleMissingMethodDoesNotDuplicateRows(t *testing.T) {
	charges := &fakeChargeRepo{}
	seq := NewSequencer(&fakeRunRepo{run: succeededRun()}, &fakeUserRepo{user: &models.User{}}, charges, &fakeProcessor{})

	_, err := seq.Settle(context.Background(), "run-1")
	assert.ErrorIs(t, err, ErrNoPaymentMethod)

	recorded, err := seq.Settle(context.Background(), "run-1")
	assert.ErrorIs(t, err, ErrNoPaymentMethod)
	assert.Empty(t, recorded)
	assert.Len(t, charges.charges, 2)
}

func TestSettleSkipsZeroUpfront(t *testing.T) {
	run := succeededRun()
	run.Items = []models.RegistrationItem{
		{Status: models.ItemStatusAdded, Session: models.ActivitySession{UpfrontFeeCents: 0}},
	}
	charges := &fakeChargeRepo{}
	seq := NewSequencer(&fakeRunRepo{run: run}, &fakeUserRepo{user: payingUser(false)}, charges, &fakeProcessor{})

	recorded, err := seq.Settle(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, models.ChargeTypeSuccessFee, recorded[0].ChargeType)
}
