package report

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ReportRecord usage_reports 表
type ReportRecord struct {
	ID              string `gorm:"primaryKey;size:36"`
	WindowStart     time.Time
	GeneratedAt     time.Time `gorm:"index"`
	SnapshotVersion uint64
	Registrations   int
	Resolutions     uint64
	Failures        uint64
	CyclesDetected  uint64
	Entries         []EntryRecord `gorm:"foreignKey:ReportID;constraint:OnDelete:CASCADE"`
}

func (ReportRecord) TableName() string { return "usage_reports" }

// EntryRecord usage_entries 表
type EntryRecord struct {
	ID       uint   `gorm:"primaryKey"`
	ReportID string `gorm:"index;size:36"`
	TypeKey  string
	Slot     int
	Count    uint64
	Delta    uint64
}

func (EntryRecord) TableName() string { return "usage_entries" }

// SQLSink 通过 GORM 持久化报告
type SQLSink struct {
	db *gorm.DB
}

// NewSQLSink 创建 SQLSink 并迁移表结构
func NewSQLSink(db *gorm.DB) (*SQLSink, error) {
	if err := db.AutoMigrate(&ReportRecord{}, &EntryRecord{}); err != nil {
		return nil, fmt.Errorf("report: 迁移报告表失败: %w", err)
	}
	return &SQLSink{db: db}, nil
}

func (s *SQLSink) Write(ctx context.Context, r *Report) error {
	rec := ReportRecord{
		ID:              r.ID,
		WindowStart:     r.WindowStart,
		GeneratedAt:     r.GeneratedAt,
		SnapshotVersion: r.SnapshotVersion,
		Registrations:   r.Registrations,
		Resolutions:     r.Counters.Resolutions,
		Failures:        r.Counters.Failures,
		CyclesDetected:  r.Counters.CyclesDetected,
	}
	for _, e := range r.Entries {
		rec.Entries = append(rec.Entries, EntryRecord{
			TypeKey: e.Key,
			Slot:    e.Slot,
			Count:   e.Count,
			Delta:   e.Delta,
		})
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// Latest 返回最近一份报告及其条目
func (s *SQLSink) Latest(ctx context.Context) (*ReportRecord, error) {
	var rec ReportRecord
	err := s.db.WithContext(ctx).
		Preload("Entries", func(db *gorm.DB) *gorm.DB { return db.Order("slot") }).
		Order("generated_at desc").
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Prune 删除 before 之前生成的报告，返回删除的报告数
func (s *SQLSink) Prune(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		old := tx.Model(&ReportRecord{}).Select("id").Where("generated_at < ?", before)
		if err := tx.Where("report_id IN (?)", old).Delete(&EntryRecord{}).Error; err != nil {
			return err
		}
		res := tx.Where("generated_at < ?", before).Delete(&ReportRecord{})
		deleted = res.RowsAffected
		return res.Error
	})
	return deleted, err
}
