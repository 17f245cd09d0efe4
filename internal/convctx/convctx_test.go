package convctx

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/ShiftPipe/internal/models"
)

type stepClock struct {
	t time.Time
}

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestManager() (*Manager, *stepClock) {
	clock := &stepClock{t: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
	return NewManager(WithClock(clock.now)), clock
}

func TestCreate(t *testing.T) {
	m, _ := newTestManager()
	seed := &models.Context{
		Registration:        &models.RegistrationContext{Code: "Emsland100"},
		InformationRequests: []models.InformationRequest{{Kind: models.InfoGeneral}},
		Metadata:            models.Metadata{MessageCount: 7},
	}
	ctx := m.Create(seed)

	assert.False(t, ctx.Metadata.ConversationStarted.IsZero())
	assert.Equal(t, ctx.Metadata.ConversationStarted, ctx.Metadata.LastActivity)
	assert.Equal(t, 0, ctx.Metadata.MessageCount)
	assert.NotNil(t, ctx.InformationRequests)
	assert.Empty(t, ctx.InformationRequests)
	assert.NotNil(t, ctx.ContactUpdates)
	assert.Equal(t, "Emsland100", ctx.Registration.Code)
	assert.Len(t, seed.InformationRequests, 1, "seed must not be mutated")
}

func TestUpdateEmptyDeltaOnlyTouchesMessageCountAndActivity(t *testing.T) {
	m, _ := newTestManager()
	ctx := m.Create(&models.Context{Overtime: &models.OvertimeContext{AdditionalHours: 2, HourlyRate: 15}})
	ctx = m.AddInformationRequest(ctx, models.InfoLocation, "wo?")

	next := m.Update(ctx, Delta{})

	assert.Equal(t, ctx.Metadata.MessageCount+1, next.Metadata.MessageCount)
	assert.True(t, next.Metadata.LastActivity.After(ctx.Metadata.LastActivity))

	// Everything else is identical.
	next.Metadata.MessageCount = ctx.Metadata.MessageCount
	next.Metadata.LastActivity = ctx.Metadata.LastActivity
	assert.Equal(t, ctx, next)
}

func TestUpdateExplicitMessageCount(t *testing.T) {
	m, _ := newTestManager()
	ctx := m.Create(nil)
	n := 42
	next := m.Update(ctx, Delta{MessageCount: &n})
	assert.Equal(t, 42, next.Metadata.MessageCount)
}

func TestUpdateDoesNotMutateInput(t *testing.T) {
	m, _ := newTestManager()
	ctx := m.Create(nil)
	ctx = m.SetEventContext(ctx, models.ShiftResponseContext{ShiftID: "s1"})
	before := ctx.Clone()

	_ = m.SetEventContext(ctx, models.ShiftResponseContext{ShiftID: "s2"})
	_ = m.Update(ctx, Delta{Scratch: map[string]string{"k": "v"}})

	assert.Equal(t, before, ctx)
}

func TestMarkInformationRequestAnsweredFlipsFirstOnly(t *testing.T) {
	m, _ := newTestManager()
	ctx := m.Create(nil)
	ctx = m.AddInformationRequest(ctx, models.InfoLocation, "wo?")
	ctx = m.AddInformationRequest(ctx, models.InfoEquipment, "was anziehen?")
	ctx = m.AddInformationRequest(ctx, models.InfoLocation, "wo genau?")

	ctx = m.MarkInformationRequestAnswered(ctx, models.InfoLocation)
	require.Len(t, ctx.InformationRequests, 3)
	assert.True(t, ctx.InformationRequests[0].Answered)
	assert.False(t, ctx.InformationRequests[1].Answered)
	assert.False(t, ctx.InformationRequests[2].Answered)

	ctx = m.MarkInformationRequestAnswered(ctx, models.InfoLocation)
	assert.True(t, ctx.InformationRequests[2].Answered)
	assert.False(t, ctx.InformationRequests[1].Answered)
	assert.Equal(t, models.InfoLocation, ctx.LastInfoRequest)
}

func TestAddContactUpdate(t *testing.T) {
	m, _ := newTestManager()
	ctx := m.AddContactUpdate(m.Create(nil), models.ContactKindPhone, "+4915100000000", "+4915111111111")
	require.Len(t, ctx.ContactUpdates, 1)
	u := ctx.ContactUpdates[0]
	assert.Equal(t, "+4915111111111", u.NewValue)
	assert.False(t, u.Timestamp.IsZero())
	assert.False(t, u.Processed)
}

func TestValidate(t *testing.T) {
	m, _ := newTestManager()
	good := m.Create(nil)
	good = m.SetEventContext(good, models.ShiftResponseContext{ShiftID: "s1", ShiftDate: "2025-03-02"})
	good = m.SetEmergencyContext(good, models.EmergencyContext{Kind: models.EmergencySick, Details: models.EmergencyDetails{Severity: models.SeverityMedium}})
	res := Validate(good)
	assert.True(t, res.IsValid, res.Errors)
	assert.Empty(t, res.Warnings)

	negative := good.Clone()
	negative.Metadata.MessageCount = -3
	negative.Metadata.ErrorCount = -1
	res = Validate(negative)
	assert.True(t, res.IsValid)
	assert.Len(t, res.Warnings, 2)
	assert.Equal(t, 0, res.Sanitized.Metadata.MessageCount)
	assert.Equal(t, 0, res.Sanitized.Metadata.ErrorCount)
	assert.Equal(t, -3, negative.Metadata.MessageCount, "input must not be mutated")

	tests := []struct {
		name   string
		mutate func(c *models.Context)
	}{
		{"bad date", func(c *models.Context) { c.ShiftResponse.ShiftDate = "02.03.2025" }},
		{"bad severity", func(c *models.Context) { c.Emergency.Details.Severity = "extreme" }},
		{"bad time", func(c *models.Context) {
			c.ScheduleModification = &models.ScheduleModificationContext{Kind: models.ScheduleStartTime, RequestedTime: "25:00"}
		}},
		{"zero overtime", func(c *models.Context) { c.Overtime = &models.OvertimeContext{AdditionalHours: 0, HourlyRate: 15} }},
		{"missing timestamp", func(c *models.Context) {
			c.InformationRequests = append(c.InformationRequests, models.InformationRequest{Kind: models.InfoGeneral})
		}},
		{"bad phone", func(c *models.Context) {
			c.ContactUpdates = append(c.ContactUpdates, models.ContactUpdate{Kind: models.ContactKindPhone, NewValue: "0151", Timestamp: time.Now()})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := good.Clone()
			tt.mutate(&c)
			res := Validate(c)
			assert.False(t, res.IsValid)
			assert.NotEmpty(t, res.Errors)
		})
	}
}

func TestMerge(t *testing.T) {
	m, _ := newTestManager()
	base := m.Create(nil)
	base = m.AddInformationRequest(base, models.InfoLocation, "wo?")
	base = m.SetEventContext(base, models.ShiftResponseContext{ShiftID: "s1"})
	base.Metadata.MessageCount = 10

	incoming := m.Create(nil)
	incoming = m.AddInformationRequest(incoming, models.InfoContact, "wer?")
	incoming = m.AddContactUpdate(incoming, models.ContactKindEmail, "", "a@b.de")
	incoming = m.SetEventContext(incoming, models.ShiftResponseContext{ShiftID: "s2"})
	incoming.Metadata.MessageCount = 3

	merged := m.Merge(base, incoming)
	require.Len(t, merged.InformationRequests, 2)
	assert.Equal(t, models.InfoLocation, merged.InformationRequests[0].Kind)
	assert.Equal(t, models.InfoContact, merged.InformationRequests[1].Kind)
	assert.Len(t, merged.ContactUpdates, 1)
	assert.Equal(t, "s2", merged.ShiftResponse.ShiftID)
	assert.Equal(t, 10, merged.Metadata.MessageCount)
	assert.Equal(t, models.InfoContact, merged.LastInfoRequest)
}

func TestExportImportRoundTrip(t *testing.T) {
	m, _ := newTestManager()
	deadline := time.Date(2025, 3, 2, 11, 0, 0, 0, time.UTC)
	ctx := m.Create(nil)
	ctx = m.SetEventContext(ctx, models.ShiftResponseContext{ShiftID: "s1", ShiftDate: "2025-03-02", TimeRequestDeadline: &deadline})
	ctx = m.SetOvertimeContext(ctx, models.OvertimeContext{AdditionalHours: 2, HourlyRate: 14.5, RequestSent: true})
	ctx = m.AddInformationRequest(ctx, models.InfoEquipment, "was anziehen?")
	ctx = m.AddContactUpdate(ctx, models.ContactKindPhone, "+4915100000000", "+4915111111111")
	require.True(t, Validate(ctx).IsValid)

	text, err := m.Export(ctx)
	require.NoError(t, err)
	imported, err := m.Import(text)
	require.NoError(t, err)

	again, err := m.Export(imported)
	require.NoError(t, err)
	assert.JSONEq(t, text, again)
	assert.True(t, imported.ShiftResponse.TimeRequestDeadline.Equal(deadline))
	assert.Equal(t, ctx.Metadata.MessageCount, imported.Metadata.MessageCount)
}

func TestImportRejectsMalformed(t *testing.T) {
	m, _ := newTestManager()
	_, err := m.Import("{not json")
	assert.True(t, errors.Is(err, models.ErrInvalidContext))

	_, err = m.Import(`{"emergency":{"kind":"sick","details":{"severity":"extreme"}}}`)
	assert.True(t, errors.Is(err, models.ErrInvalidContext))
}

func TestImportSanitizesCounters(t *testing.T) {
	m, _ := newTestManager()
	ctx, err := m.Import(`{"metadata":{"messageCount":-5,"errorCount":2}}`)
	require.NoError(t, err)
	assert.Equal(t, 0, ctx.Metadata.MessageCount)
	assert.Equal(t, 2, ctx.Metadata.ErrorCount)
}

func TestReset(t *testing.T) {
	m, _ := newTestManager()
	ctx := m.Create(nil)
	ctx = m.AddInformationRequest(ctx, models.InfoGeneral, "?")
	ctx = m.SetEmergencyContext(ctx, models.EmergencyContext{Kind: models.EmergencyLate, Details: models.EmergencyDetails{Severity: models.SeverityLow}})
	ctx = m.Update(ctx, Delta{Scratch: map[string]string{"k": "v"}, ErrorCount: intPtr(2)})

	kept := m.Reset(ctx, true)
	assert.Equal(t, ctx.Metadata.ConversationStarted, kept.Metadata.ConversationStarted)
	assert.Zero(t, kept.Metadata.MessageCount)
	assert.Zero(t, kept.Metadata.ErrorCount)
	assert.Zero(t, kept.Metadata.RetryCount)
	assert.Empty(t, kept.InformationRequests)
	assert.Nil(t, kept.Emergency)
	assert.Nil(t, kept.Scratch)

	assert.Equal(t, models.Context{}, m.Reset(ctx, false))
}

func TestClearScratch(t *testing.T) {
	m, _ := newTestManager()
	ctx := m.Update(m.Create(nil), Delta{Scratch: map[string]string{"k": "v"}})
	cleared := m.ClearScratch(ctx)
	assert.Nil(t, cleared.Scratch)
	assert.Equal(t, "v", ctx.Scratch["k"])
}

func intPtr(v int) *int { return &v }
