package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"manual-hand/models"
)

// MetadataStore kapselt alle Postgres-Zugriffe auf Dokumente und Feedback.
type MetadataStore struct {
	DB *gorm.DB
}

// NewMetadataStore erstellt einen MetadataStore.
func NewMetadataStore(db *gorm.DB) *MetadataStore {
	return &MetadataStore{DB: db}
}

// CreateDocument legt ein neues Dokument an.
func (m *MetadataStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	return m.DB.WithContext(ctx).Create(doc).Error
}

// GetDocument liest ein Dokument; gibt models.ErrDocumentNotFound zurück,
// wenn es nicht (mehr) existiert.
func (m *MetadataStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	if err := m.DB.WithContext(ctx).First(&doc, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrDocumentNotFound
		}
		return nil, err
	}
	return &doc, nil
}

// UpdateStatus schreibt einen Statuswechsel und validiert ihn gegen die
// Übergangstabelle. Die Zeile wird dabei gesperrt, damit konkurrierende
// Writer keinen unzulässigen Zwischenzustand erzeugen. updates dürfen
// weitere Spalten enthalten (error_message, ready_at, ...).
func (m *MetadataStore) UpdateStatus(ctx context.Context, id string, next models.ProcessingStatus, updates map[string]interface{}) error {
	return m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc models.Document
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&doc, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrDocumentNotFound
			}
			return err
		}
		if !doc.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, doc.Status, next)
		}
		if updates == nil {
			updates = map[string]interface{}{}
		}
		updates["status"] = next
		return tx.Model(&doc).Updates(updates).Error
	})
}

// ListDocuments liefert eine Seite der Dokumentliste plus Gesamtzahl.
// Leere Filterwerte werden ignoriert.
func (m *MetadataStore) ListDocuments(ctx context.Context, category, status string, page, pageSize int) ([]models.Document, int64, error) {
	query := m.DB.WithContext(ctx).Model(&models.Document{})
	if category != "" {
		query = query.Where("category = ?", category)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var docs []models.Document
	err := query.Order("created_at desc").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&docs).Error
	return docs, total, err
}

// DeleteDocument entfernt das Dokument samt aller Feedback-Votes (Kaskade).
func (m *MetadataStore) DeleteDocument(ctx context.Context, id string) error {
	return m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", id).Delete(&models.FeedbackVote{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Document{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.ErrDocumentNotFound
		}
		return nil
	})
}

// ResetDocument setzt ein Dokument im Endzustand zurück auf uploaded,
// damit die Pipeline es erneut verarbeiten kann. Das ist bewusst kein
// Pipeline-Übergang: Reprocess ist ein Lifecycle-Ereignis wie Delete.
func (m *MetadataStore) ResetDocument(ctx context.Context, id string) error {
	return m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc models.Document
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&doc, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrDocumentNotFound
			}
			return err
		}
		if !doc.Status.Terminal() {
			return fmt.Errorf("%w: %s -> %s (document still processing)",
				models.ErrInvalidTransition, doc.Status, models.StatusUploaded)
		}
		return tx.Model(&doc).Updates(map[string]interface{}{
			"status":        models.StatusUploaded,
			"error_message": "",
			"ready_at":      nil,
		}).Error
	})
}

// DocumentExists prüft, ob ein Dokument existiert.
func (m *MetadataStore) DocumentExists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := m.DB.WithContext(ctx).Model(&models.Document{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

// InsertVote speichert eine Bewertung. Kollidiert sie mit dem Unique-Index
// über (session_id, document_id, page), passiert nichts und die Funktion
// gibt false zurück — das ist der Duplikatsfall.
func (m *MetadataStore) InsertVote(ctx context.Context, vote *models.FeedbackVote) (bool, error) {
	res := m.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(vote)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CountVotes aggregiert die Bewertungen einer Dokumentseite.
func (m *MetadataStore) CountVotes(ctx context.Context, documentID string, page int) (positive, negative int64, err error) {
	base := m.DB.WithContext(ctx).Model(&models.FeedbackVote{}).
		Where("document_id = ? AND page = ?", documentID, page)
	if err = base.Session(&gorm.Session{}).Where("rating = ?", models.RatingPositive).Count(&positive).Error; err != nil {
		return 0, 0, err
	}
	if err = base.Session(&gorm.Session{}).Where("rating = ?", models.RatingNegative).Count(&negative).Error; err != nil {
		return 0, 0, err
	}
	return positive, negative, nil
}

// StuckDocuments liefert Dokumente, die in einem Zwischenzustand hängen
// (z.B. nach einem Neustart mitten in der Verarbeitung).
func (m *MetadataStore) StuckDocuments(ctx context.Context, olderThanMinutes int) ([]models.Document, error) {
	var docs []models.Document
	err := m.DB.WithContext(ctx).
		Where("status IN ?", []models.ProcessingStatus{models.StatusParsing, models.StatusSummarizing, models.StatusIndexing}).
		Where(fmt.Sprintf("updated_at < NOW() - INTERVAL '%d minutes'", olderThanMinutes)).
		Find(&docs).Error
	return docs, err
}
