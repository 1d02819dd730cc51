// Package directory implements the sqlite-backed company directory that the
// built-in tools query: employees, internal documents, and vacation balances.
package directory

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the directory database. All statements are short-lived; no
// transaction spans a model or tool call.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Employee is one directory entry.
type Employee struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Department string `json:"department"`
	HireDate   string `json:"hire_date,omitempty"`
	Position   string `json:"position"`
}

// Document is one searchable internal document.
type Document struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Category string `json:"category"`
}

// VacationBalance is an employee's balance for one year.
type VacationBalance struct {
	EmployeeID string `json:"employee_id"`
	Name       string `json:"name"`
	Year       int    `json:"year"`
	TotalDays  int    `json:"total_days"`
	UsedDays   int    `json:"used_days"`
	Remaining  int    `json:"remaining_days"`
}

// Open opens (or creates) the directory database, migrates the schema, and
// seeds sample data on first run.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := s.seed(); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed: %w", err)
	}

	slog.Info("directory store opened", "path", dbPath)
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS employees (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			department TEXT,
			hire_date DATE,
			position TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			category TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS vacations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			employee_id TEXT,
			year INTEGER,
			total_days INTEGER,
			used_days INTEGER,
			FOREIGN KEY(employee_id) REFERENCES employees(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_vacations_employee ON vacations(employee_id, year)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min(len(stmt), 60)], err)
		}
	}
	return nil
}

// seed inserts sample rows on an empty database so the tools have something
// to answer with out of the box.
func (s *Store) seed() error {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM employees").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	employees := []Employee{
		{ID: "EMP001", Name: "Kim Chulsoo", Department: "Engineering", HireDate: "2023-03-15", Position: "Junior Developer"},
		{ID: "EMP002", Name: "Lee Younghee", Department: "People Ops", HireDate: "2021-08-01", Position: "Associate"},
		{ID: "EMP003", Name: "Park Minsoo", Department: "Engineering", HireDate: "2024-11-01", Position: "Intern"},
		{ID: "EMP004", Name: "Jung Soojin", Department: "Product", HireDate: "2022-05-20", Position: "Product Manager"},
		{ID: "EMP005", Name: "Choi Donghyun", Department: "Engineering", HireDate: "2020-01-06", Position: "Backend Developer"},
	}
	for _, e := range employees {
		if _, err := s.db.Exec(
			"INSERT INTO employees (id, name, department, hire_date, position) VALUES (?, ?, ?, ?, ?)",
			e.ID, e.Name, e.Department, e.HireDate, e.Position); err != nil {
			return err
		}
	}

	docs := []Document{
		{Title: "New hire vacation policy", Content: "Employees with less than one year of tenure accrue one paid day per month. After one year, 15 paid days are granted annually.", Category: "HR"},
		{Title: "Remote work guidelines", Content: "Up to two remote days per week are allowed with prior team lead approval.", Category: "HR"},
		{Title: "Expense reimbursement guide", Content: "Business travel expenses should use the corporate card. Personal card expenses are reimbursed with next month's payroll after receipt submission.", Category: "Finance"},
		{Title: "Security policy", Content: "Internal documents must not be stored on external cloud services. All work files belong on the internal NAS.", Category: "IT"},
	}
	for _, d := range docs {
		if _, err := s.db.Exec(
			"INSERT INTO documents (title, content, category) VALUES (?, ?, ?)",
			d.Title, d.Content, d.Category); err != nil {
			return err
		}
	}

	year := time.Now().Year()
	vacations := []VacationBalance{
		{EmployeeID: "EMP001", Year: year, TotalDays: 15, UsedDays: 8},
		{EmployeeID: "EMP002", Year: year, TotalDays: 15, UsedDays: 12},
		{EmployeeID: "EMP003", Year: year, TotalDays: 5, UsedDays: 1},
		{EmployeeID: "EMP004", Year: year, TotalDays: 15, UsedDays: 3},
		{EmployeeID: "EMP005", Year: year, TotalDays: 18, UsedDays: 10},
	}
	for _, v := range vacations {
		if _, err := s.db.Exec(
			"INSERT INTO vacations (employee_id, year, total_days, used_days) VALUES (?, ?, ?, ?)",
			v.EmployeeID, v.Year, v.TotalDays, v.UsedDays); err != nil {
			return err
		}
	}

	slog.Info("directory store seeded", "employees", len(employees), "documents", len(docs))
	return nil
}

// AllEmployees returns every employee ordered by id.
func (s *Store) AllEmployees() ([]Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT id, name, department, position FROM employees ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Employee
	for rows.Next() {
		var e Employee
		if err := rows.Scan(&e.ID, &e.Name, &e.Department, &e.Position); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetEmployee returns one employee, or false if the id is unknown.
func (s *Store) GetEmployee(id string) (Employee, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var e Employee
	err := s.db.QueryRow(
		"SELECT id, name, department, hire_date, position FROM employees WHERE id = ?", id,
	).Scan(&e.ID, &e.Name, &e.Department, &e.HireDate, &e.Position)
	if err != nil {
		return Employee{}, false
	}
	return e, true
}

// AddEmployee inserts a new employee.
func (s *Store) AddEmployee(e Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT INTO employees (id, name, department, hire_date, position) VALUES (?, ?, ?, ?, ?)",
		e.ID, e.Name, e.Department, e.HireDate, e.Position)
	if err != nil {
		return fmt.Errorf("insert employee: %w", err)
	}
	return nil
}

// SearchDocs returns documents whose title or content contains the query.
func (s *Store) SearchDocs(query string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	like := "%" + strings.TrimSpace(query) + "%"
	rows, err := s.db.Query(
		`SELECT id, title, content, category FROM documents
		 WHERE title LIKE ? OR content LIKE ?
		 ORDER BY id`, like, like)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Title, &d.Content, &d.Category); err != nil {
			continue
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// VacationDays returns the remaining vacation balance for an employee/year.
// The second return is false when the employee or balance row is missing.
func (s *Store) VacationDays(employeeID string, year int) (VacationBalance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var name string
	if err := s.db.QueryRow("SELECT name FROM employees WHERE id = ?", employeeID).Scan(&name); err != nil {
		return VacationBalance{}, false
	}

	var total, used int
	err := s.db.QueryRow(
		"SELECT total_days, used_days FROM vacations WHERE employee_id = ? AND year = ?",
		employeeID, year,
	).Scan(&total, &used)
	if err != nil {
		return VacationBalance{}, false
	}

	return VacationBalance{
		EmployeeID: employeeID,
		Name:       name,
		Year:       year,
		TotalDays:  total,
		UsedDays:   used,
		Remaining:  total - used,
	}, true
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
