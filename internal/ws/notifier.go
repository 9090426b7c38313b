package ws

import (
	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-engine/internal/logger"
	"github.com/ignatzorin/escrow-engine/internal/models"
)

// EventJobChanged: заказ изменился, UI должен перечитать его.
const EventJobChanged = "job.changed"

// JobChangedData: полезная нагрузка EventJobChanged.
type JobChangedData struct {
	JobID   uuid.UUID `json:"job_id"`
	Status  string    `json:"status"`
	Version int64     `json:"version"`
}

// JobNotifier рассылает события изменения заказа его участникам.
type JobNotifier struct {
	hub *Hub
}

func NewJobNotifier(hub *Hub) *JobNotifier {
	return &JobNotifier{hub: hub}
}

// JobChanged уведомляет клиента и нанятого исполнителя.
func (n *JobNotifier) JobChanged(job *models.Job) {
	data := JobChangedData{JobID: job.ID, Status: string(job.Status), Version: job.Version}
	recipients := []uuid.UUID{job.ClientID}
	if job.ProfessionalID != nil && *job.ProfessionalID != job.ClientID {
		recipients = append(recipients, *job.ProfessionalID)
	}
	for _, userID := range recipients {
		if err := n.hub.BroadcastToUser(userID, EventJobChanged, data); err != nil {
			logger.Job(job.ID).WithError(err).Warn("ws: не удалось отправить событие заказа")
		}
	}
}
