// Package store is the SQLite learning store: it keeps the corrections
// users make to analysis results and turns them into personalized hints,
// statistics and prompt guidance.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/brunobiangulo/docanalysis/schema"
)

// PatternThreshold is how often a field must be modified before it counts
// as a pattern.
const PatternThreshold = 2

// SuccessAccuracy is the accuracy at which a correction counts as a success.
const SuccessAccuracy = 0.9

// DefaultStatisticsDays is the window GetStatistics uses for days <= 0.
const DefaultStatisticsDays = 30

// Correction is one user-approved analysis.
type Correction struct {
	RecordID string                `json:"record_id"`
	UserID   string                `json:"user_id"`
	DocType  string                `json:"doc_type"`
	Category string                `json:"category"`
	Model    string                `json:"model,omitempty"`
	Original *schema.ExtractedData `json:"original"`
	Final    *schema.ExtractedData `json:"final"`

	// Modifications may be left empty; they are then derived with Diff.
	Modifications []Modification `json:"modifications,omitempty"`
}

// LearnResult reports what LearnFromModifications stored.
type LearnResult struct {
	RecordID              string   `json:"record_id"`
	ModificationsRecorded int      `json:"modifications_recorded"`
	Accuracy              float64  `json:"accuracy"`
	PatternsIdentified    []string `json:"patterns_identified"`
}

// PatternContext summarises a user's history on one document type.
type PatternContext struct {
	Accuracy          float64  `json:"accuracy"`
	AverageConfidence float64  `json:"average_confidence"`
	SampleCount       int      `json:"sample_count"`
	ErrorPatterns     []string `json:"error_patterns"`
	SuccessPatterns   []string `json:"success_patterns"`
}

// Hints is the personalization handed to the extraction engine.
type Hints struct {
	Hints                  []string       `json:"hints"`
	PredictedModifications []Modification `json:"predicted_modifications"`
	PatternContext         PatternContext `json:"pattern_context"`
}

// FieldCount is a field with its modification count.
type FieldCount struct {
	Field string `json:"field"`
	Count int    `json:"count"`
}

// Statistics summarises the learning store over a time window.
type Statistics struct {
	Days                      int            `json:"days"`
	TotalCorrections          int            `json:"total_corrections"`
	TotalModifications        int            `json:"total_modifications"`
	UniqueUsers               int            `json:"unique_users"`
	AverageAccuracy           float64        `json:"average_accuracy"`
	AverageOriginalConfidence float64        `json:"average_original_confidence"`
	ByDocType                 map[string]int `json:"by_doc_type"`
	ByModificationType        map[string]int `json:"by_modification_type"`
	TopFields                 []FieldCount   `json:"top_fields"`
}

// PromptOptimization is guidance for one document type and category.
type PromptOptimization struct {
	DocType            string   `json:"doc_type"`
	Category           string   `json:"category"`
	SampleCount        int      `json:"sample_count"`
	PromptEnhancements []string `json:"prompt_enhancements"`
	CommonErrors       []string `json:"common_errors"`
}

// Store wraps the SQLite database holding the learning tables.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// --- Learning ---

// LearnFromModifications stores an approved result. Learning the same
// record id again replaces the earlier correction.
func (s *Store) LearnFromModifications(ctx context.Context, c Correction) (*LearnResult, error) {
	if c.RecordID == "" {
		c.RecordID = uuid.NewString()
	}
	if c.Original == nil || c.Final == nil {
		return nil, fmt.Errorf("correction %s: original and final are required", c.RecordID)
	}
	mods := c.Modifications
	if len(mods) == 0 {
		mods = Diff(c.Original, c.Final)
	}
	if c.Category == "" {
		c.Category = c.Final.BasicInfo.Category
	}
	acc := accuracy(len(mods), fieldCount(c.Original, c.Final))

	original, err := json.Marshal(c.Original)
	if err != nil {
		return nil, fmt.Errorf("encoding original: %w", err)
	}
	final, err := json.Marshal(c.Final)
	if err != nil {
		return nil, fmt.Errorf("encoding final: %w", err)
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM corrections WHERE record_id = ?", c.RecordID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO corrections (record_id, user_id, doc_type, category, original, final,
				original_confidence, accuracy, model)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, c.RecordID, c.UserID, c.DocType, c.Category, string(original), string(final),
			c.Original.Confidence.Overall, acc, c.Model)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO field_modifications (correction_id, user_id, doc_type, field,
				modification_type, original_value, final_value)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, m := range mods {
			if _, err := stmt.ExecContext(ctx, id, c.UserID, c.DocType, m.Field, m.Type, m.OriginalValue, m.FinalValue); err != nil {
				return fmt.Errorf("inserting modification %s: %w", m.Field, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recording correction %s: %w", c.RecordID, err)
	}

	stats, err := s.fieldStats(ctx, c.UserID, c.DocType)
	if err != nil {
		return nil, err
	}
	touched := make(map[string]bool, len(mods))
	for _, m := range mods {
		touched[m.Field] = true
	}
	patterns := []string{}
	for _, st := range stats {
		if touched[st.field] && st.count >= PatternThreshold {
			patterns = append(patterns, errorPattern(st))
		}
	}

	slog.Info("store: correction learned",
		"record_id", c.RecordID,
		"user_id", c.UserID,
		"doc_type", c.DocType,
		"modifications", len(mods),
		"accuracy", acc,
		"patterns", len(patterns),
	)
	return &LearnResult{
		RecordID:              c.RecordID,
		ModificationsRecorded: len(mods),
		Accuracy:              acc,
		PatternsIdentified:    patterns,
	}, nil
}

// --- Personalization ---

// GetPersonalizedHints summarises a user's past corrections on a document
// type and predicts which fields of data the user is likely to change.
func (s *Store) GetPersonalizedHints(ctx context.Context, userID, docType string, data *schema.ExtractedData) (*Hints, error) {
	h := &Hints{
		Hints:                  []string{},
		PredictedModifications: []Modification{},
		PatternContext: PatternContext{
			ErrorPatterns:   []string{},
			SuccessPatterns: []string{},
		},
	}
	pc := &h.PatternContext

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(AVG(accuracy), 0), COALESCE(AVG(original_confidence), 0)
		FROM corrections WHERE user_id = ? AND doc_type = ?
	`, userID, docType).Scan(&pc.SampleCount, &pc.Accuracy, &pc.AverageConfidence)
	if err != nil {
		return nil, fmt.Errorf("reading user history: %w", err)
	}
	if pc.SampleCount == 0 {
		return h, nil
	}

	stats, err := s.fieldStats(ctx, userID, docType)
	if err != nil {
		return nil, err
	}
	seenHint := map[string]bool{}
	for _, st := range stats {
		if st.count < PatternThreshold {
			continue
		}
		pc.ErrorPatterns = append(pc.ErrorPatterns, errorPattern(st))
		if hint := hintFor(st.field, st.modType); !seenHint[hint] {
			seenHint[hint] = true
			h.Hints = append(h.Hints, hint)
		}
		if data == nil {
			continue
		}
		if pm, ok, err := s.predict(ctx, userID, docType, st, data); err != nil {
			return nil, err
		} else if ok {
			h.PredictedModifications = append(h.PredictedModifications, pm)
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT json_extract(final, '$.basic_info.category') AS cat, COUNT(*) AS n
		FROM corrections
		WHERE user_id = ? AND doc_type = ? AND accuracy >= ?
			AND COALESCE(json_extract(final, '$.basic_info.category'), '') != ''
		GROUP BY cat
		ORDER BY n DESC, cat
		LIMIT 3
	`, userID, docType, SuccessAccuracy)
	if err != nil {
		return nil, fmt.Errorf("reading success patterns: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, err
		}
		pc.SuccessPatterns = append(pc.SuccessPatterns, fmt.Sprintf("产品类别通常为「%s」（%d次准确识别）", cat, n))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return h, nil
}

// predict turns a frequent modification into a prediction for data.
func (s *Store) predict(ctx context.Context, userID, docType string, st fieldStat, data *schema.ExtractedData) (Modification, bool, error) {
	current, present := fieldValue(data, st.field)
	switch st.modType {
	case ModChanged, ModRemoved:
		if !present {
			return Modification{}, false, nil
		}
	case ModAdded:
		if present {
			return Modification{}, false, nil
		}
	}
	var final sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT final_value FROM field_modifications
		WHERE user_id = ? AND doc_type = ? AND field = ? AND modification_type = ?
		ORDER BY id DESC LIMIT 1
	`, userID, docType, st.field, st.modType).Scan(&final)
	if err != nil && err != sql.ErrNoRows {
		return Modification{}, false, fmt.Errorf("reading last %s of %s: %w", st.modType, st.field, err)
	}
	return Modification{
		Field:         st.field,
		Type:          st.modType,
		OriginalValue: current,
		FinalValue:    final.String,
	}, true, nil
}

// fieldValue returns the value of a Diff field name in data.
func fieldValue(data *schema.ExtractedData, field string) (string, bool) {
	var v string
	switch field {
	case FieldName:
		v = data.BasicInfo.Name
	case FieldCode:
		v = data.BasicInfo.Code
	case FieldCategory:
		v = data.BasicInfo.Category
	case FieldDescription:
		v = data.BasicInfo.Description
	default:
		if !strings.HasPrefix(field, specPrefix) {
			return "", false
		}
		sv, ok := data.Specifications[strings.TrimPrefix(field, specPrefix)]
		if !ok {
			return "", false
		}
		v = display(sv)
	}
	return v, v != ""
}

// --- Statistics ---

// GetStatistics summarises corrections created in the last days days.
func (s *Store) GetStatistics(ctx context.Context, days int) (*Statistics, error) {
	if days <= 0 {
		days = DefaultStatisticsDays
	}
	since := fmt.Sprintf("-%d days", days)
	st := &Statistics{
		Days:               days,
		ByDocType:          map[string]int{},
		ByModificationType: map[string]int{},
		TopFields:          []FieldCount{},
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT user_id),
			COALESCE(AVG(accuracy), 0), COALESCE(AVG(original_confidence), 0)
		FROM corrections WHERE created_at >= datetime('now', ?)
	`, since).Scan(&st.TotalCorrections, &st.UniqueUsers, &st.AverageAccuracy, &st.AverageOriginalConfidence)
	if err != nil {
		return nil, fmt.Errorf("reading totals: %w", err)
	}

	if err := s.countInto(ctx, st.ByDocType, `
		SELECT doc_type, COUNT(*) FROM corrections
		WHERE created_at >= datetime('now', ?) GROUP BY doc_type
	`, since); err != nil {
		return nil, fmt.Errorf("reading document types: %w", err)
	}
	if err := s.countInto(ctx, st.ByModificationType, `
		SELECT modification_type, COUNT(*) FROM field_modifications
		WHERE created_at >= datetime('now', ?) GROUP BY modification_type
	`, since); err != nil {
		return nil, fmt.Errorf("reading modification types: %w", err)
	}
	for _, n := range st.ByModificationType {
		st.TotalModifications += n
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT field, COUNT(*) AS n FROM field_modifications
		WHERE created_at >= datetime('now', ?)
		GROUP BY field ORDER BY n DESC, field LIMIT 10
	`, since)
	if err != nil {
		return nil, fmt.Errorf("reading top fields: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var fc FieldCount
		if err := rows.Scan(&fc.Field, &fc.Count); err != nil {
			return nil, err
		}
		st.TopFields = append(st.TopFields, fc)
	}
	return st, rows.Err()
}

func (s *Store) countInto(ctx context.Context, dst map[string]int, query string, args ...any) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return err
		}
		dst[k] = n
	}
	return rows.Err()
}

// --- Prompt optimization ---

// OptimizePrompt turns the most frequent corrections on a document type,
// optionally restricted to a category, into prompt guidance.
func (s *Store) OptimizePrompt(ctx context.Context, docType, category string) (*PromptOptimization, error) {
	po := &PromptOptimization{
		DocType:            docType,
		Category:           category,
		PromptEnhancements: []string{},
		CommonErrors:       []string{},
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM corrections WHERE doc_type = ? AND (? = '' OR category = ?)
	`, docType, category, category).Scan(&po.SampleCount)
	if err != nil {
		return nil, fmt.Errorf("counting corrections: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT fm.field, fm.modification_type, COUNT(*) AS n
		FROM field_modifications fm
		JOIN corrections c ON c.id = fm.correction_id
		WHERE fm.doc_type = ? AND (? = '' OR c.category = ?)
		GROUP BY fm.field, fm.modification_type
		ORDER BY n DESC, fm.field
		LIMIT 10
	`, docType, category, category)
	if err != nil {
		return nil, fmt.Errorf("reading common errors: %w", err)
	}
	defer rows.Close()

	seen := map[string]bool{}
	for rows.Next() {
		var st fieldStat
		if err := rows.Scan(&st.field, &st.modType, &st.count); err != nil {
			return nil, err
		}
		po.CommonErrors = append(po.CommonErrors, errorPattern(st))
		if hint := hintFor(st.field, st.modType); !seen[hint] {
			seen[hint] = true
			po.PromptEnhancements = append(po.PromptEnhancements, hint)
		}
	}
	return po, rows.Err()
}

// --- Helpers ---

type fieldStat struct {
	field   string
	modType string
	count   int
}

// fieldStats returns a user's modification counts on a document type,
// most frequent first.
func (s *Store) fieldStats(ctx context.Context, userID, docType string) ([]fieldStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT field, modification_type, COUNT(*) AS n
		FROM field_modifications
		WHERE user_id = ? AND doc_type = ?
		GROUP BY field, modification_type
		ORDER BY n DESC, field
		LIMIT 10
	`, userID, docType)
	if err != nil {
		return nil, fmt.Errorf("reading field statistics: %w", err)
	}
	defer rows.Close()

	var stats []fieldStat
	for rows.Next() {
		var st fieldStat
		if err := rows.Scan(&st.field, &st.modType, &st.count); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

var modVerbs = map[string]string{
	ModAdded:   "补充",
	ModRemoved: "删除",
	ModChanged: "修改",
}

func errorPattern(st fieldStat) string {
	return fmt.Sprintf("%s经常被%s（%d次）", fieldLabel(st.field), modVerbs[st.modType], st.count)
}

// hintFor is the prompt guidance for a frequent modification.
func hintFor(field, modType string) string {
	label := fieldLabel(field)
	spec := strings.HasPrefix(field, specPrefix)
	switch {
	case spec && modType == ModChanged:
		return "请仔细核对" + label + "的数值和单位"
	case spec && modType == ModAdded:
		return "不要遗漏" + label
	case spec && modType == ModRemoved:
		return "不要将" + label + "作为技术参数提取"
	case modType == ModAdded:
		return "务必提取" + label
	case modType == ModRemoved:
		return "文档未明确给出" + label + "时请留空"
	default:
		return "请从文档标题或型号栏准确提取" + label
	}
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
