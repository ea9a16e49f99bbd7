package booking

import (
	"context"
	"sync"
	"time"

	"psychology/database"
	"psychology/models"
)

// memStore is an in-memory slot+appointment store whose transactions run one
// at a time and roll back on error, the way a serializable database behaves.
type memStore struct {
	txMu   sync.Mutex
	dataMu sync.Mutex

	slots        map[string]models.AvailabilitySlot
	appointments map[string]models.Appointment
	ledger       map[string]int64

	// ConflictsBeforeCommit makes the next N transactions fail with a write conflict.
	ConflictsBeforeCommit int
	TxCallCount           int
}

func newMemStore() *memStore {
	return &memStore{
		slots:        make(map[string]models.AvailabilitySlot),
		appointments: make(map[string]models.Appointment),
		ledger:       make(map[string]int64),
	}
}

func (m *memStore) addSlot(id string, start, end time.Time) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	m.slots[id] = models.AvailabilitySlot{
		ID:         id,
		StartAtUTC: start,
		EndAtUTC:   end,
		Status:     models.SlotAvailable,
		Source:     models.SlotSourceProduct,
	}
}

func (m *memStore) slotStatus(id string) models.SlotStatus {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	return m.slots[id].Status
}

func (m *memStore) appointmentCount() int {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	return len(m.appointments)
}

func (m *memStore) WithTransaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.dataMu.Lock()
	m.TxCallCount++
	conflict := m.ConflictsBeforeCommit > 0
	if conflict {
		m.ConflictsBeforeCommit--
	}
	slots := make(map[string]models.AvailabilitySlot, len(m.slots))
	for k, v := range m.slots {
		slots[k] = v
	}
	appts := make(map[string]models.Appointment, len(m.appointments))
	for k, v := range m.appointments {
		appts[k] = v
	}
	ledger := make(map[string]int64, len(m.ledger))
	for k, v := range m.ledger {
		ledger[k] = v
	}
	m.dataMu.Unlock()

	err := fn(ctx)
	if err == nil && conflict {
		err = database.ErrTxConflict
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		m.dataMu.Lock()
		m.slots, m.appointments, m.ledger = slots, appts, ledger
		m.dataMu.Unlock()
	}
	return err
}

func (m *memStore) setSlotService(id, serviceID string) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	slot := m.slots[id]
	slot.ServiceID = &serviceID
	m.slots[id] = slot
}

func (m *memStore) GetByID(ctx context.Context, id string) (*models.AvailabilitySlot, error) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	slot, ok := m.slots[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &slot, nil
}

func (m *memStore) ReserveSlotIfAvailable(ctx context.Context, slotID string, now time.Time) (bool, error) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	slot, ok := m.slots[slotID]
	if !ok || slot.Status != models.SlotAvailable {
		return false, nil
	}
	slot.Status = models.SlotReserved
	slot.UpdatedAt = now
	m.slots[slotID] = slot
	return true, nil
}

func (m *memStore) Create(ctx context.Context, appt *models.Appointment) error {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	if appt.ClientRequestID != nil {
		for _, existing := range m.appointments {
			if existing.ClientRequestID != nil && *existing.ClientRequestID == *appt.ClientRequestID {
				return database.ErrDuplicateClientRequest
			}
		}
	}
	m.appointments[appt.ID] = *appt
	return nil
}

func (m *memStore) GetByClientRequestID(ctx context.Context, clientRequestID string) (*models.Appointment, error) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	for _, appt := range m.appointments {
		if appt.ClientRequestID != nil && *appt.ClientRequestID == clientRequestID {
			found := appt
			return &found, nil
		}
	}
	return nil, database.ErrNotFound
}

func (m *memStore) FindOverlapping(ctx context.Context, start, end time.Time) (*models.Appointment, error) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	for _, appt := range m.appointments {
		if appt.Status.IsNonTerminal() && appt.StartAtUTC.Before(end) && appt.EndAtUTC.After(start) {
			found := appt
			return &found, nil
		}
	}
	return nil, nil
}

func (m *memStore) TouchLedger(ctx context.Context, day string, now time.Time) error {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	m.ledger[day]++
	return nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }
