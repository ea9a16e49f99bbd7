package repository

import (
	"context"

	appointmentRepo "psychology/database/repository/appointment"
	integrationRepo "psychology/database/repository/integration"
	paymentRepo "psychology/database/repository/payment"
	slotRepo "psychology/database/repository/slot"

	"go.mongodb.org/mongo-driver/mongo"
)

// Re-export the repository interfaces.
type (
	SlotRepository         = slotRepo.SlotRepository
	AppointmentRepository  = appointmentRepo.AppointmentRepository
	PaymentRepository      = paymentRepo.PaymentRepository
	WebhookEventRepository = paymentRepo.WebhookEventRepository
	IntegrationRepository  = integrationRepo.IntegrationRepository
)

// Repositories bundles every MongoDB repository over one database.
type Repositories struct {
	Slots        SlotRepository
	Appointments AppointmentRepository
	Payments     PaymentRepository
	Webhooks     WebhookEventRepository
	Integrations IntegrationRepository
}

func NewMongoRepositories(db *mongo.Database) *Repositories {
	return &Repositories{
		Slots:        slotRepo.NewMongoSlotRepo(db),
		Appointments: appointmentRepo.NewMongoAppointmentRepo(db),
		Payments:     paymentRepo.NewMongoPaymentRepo(db),
		Webhooks:     paymentRepo.NewMongoWebhookEventRepo(db),
		Integrations: integrationRepo.NewMongoIntegrationRepo(db),
	}
}

// EnsureIndexes creates the indexes of every collection.
func (r *Repositories) EnsureIndexes(ctx context.Context) error {
	steps := []func(context.Context) error{
		r.Slots.EnsureIndexes,
		r.Appointments.EnsureIndexes,
		r.Payments.EnsureIndexes,
		r.Webhooks.EnsureIndexes,
		r.Integrations.EnsureIndexes,
	}
	for _, ensure := range steps {
		if err := ensure(ctx); err != nil {
			return err
		}
	}
	return nil
}
