package logger

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Log: глобальный логгер. До вызова Init пишет текстом на уровне info.
var Log = logrus.New()

// Init инициализирует структурированный логгер.
func Init(level string) {
	Log = logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Log.SetLevel(lvl)

	// Используем JSON формат для production, text для development
	Log.SetFormatter(&logrus.JSONFormatter{})
}

// SetTextFormatter устанавливает текстовый формат логов (для development).
func SetTextFormatter() {
	Log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

// Job возвращает запись лога с идентификатором заказа.
func Job(jobID uuid.UUID) *logrus.Entry {
	return Log.WithField("job_id", jobID.String())
}

// Transaction добавляет поля платёжной транзакции.
func Transaction(jobID, txID uuid.UUID, providerRef *string) *logrus.Entry {
	entry := Log.WithFields(logrus.Fields{
		"job_id":         jobID.String(),
		"transaction_id": txID.String(),
	})
	if providerRef != nil {
		entry = entry.WithField("provider_ref", *providerRef)
	}
	return entry
}
