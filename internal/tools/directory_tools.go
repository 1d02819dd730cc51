package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/toolgate/internal/directory"
)

// RegisterDirectoryTools registers the built-in company-directory toolkit.
func RegisterDirectoryTools(reg *Registry, store *directory.Store) {
	reg.Register(&GetAllEmployeesTool{store: store})
	reg.Register(&GetEmployeeTool{store: store})
	reg.Register(&AddEmployeeTool{store: store})
	reg.Register(&VacationDaysTool{store: store})
	reg.Register(&SearchDocsTool{store: store})
}

// stringArg reads a string argument, tolerating numeric values the model
// sometimes sends for id-like fields.
func stringArg(args map[string]interface{}, key string) string {
	switch v := args[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

func intArg(args map[string]interface{}, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

// GetAllEmployeesTool lists every employee in the directory.
type GetAllEmployeesTool struct {
	store *directory.Store
}

func (t *GetAllEmployeesTool) Name() string        { return "get_all_employees" }
func (t *GetAllEmployeesTool) Description() string { return "List all employees in the directory." }
func (t *GetAllEmployeesTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
		"required":   []string{},
	}
}

func (t *GetAllEmployeesTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	employees, err := t.store.AllEmployees()
	if err != nil {
		return Errorf("list employees: %v", err)
	}
	return OK(map[string]interface{}{
		"employees": employees,
		"count":     len(employees),
	})
}

// GetEmployeeTool looks up one employee by id.
type GetEmployeeTool struct {
	store *directory.Store
}

func (t *GetEmployeeTool) Name() string        { return "get_employee" }
func (t *GetEmployeeTool) Description() string { return "Look up a single employee by employee ID." }
func (t *GetEmployeeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"employee_id": map[string]interface{}{
				"type":        "string",
				"description": "Employee ID, e.g. EMP001",
			},
		},
		"required": []string{"employee_id"},
	}
}

func (t *GetEmployeeTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	id := stringArg(args, "employee_id")
	if id == "" {
		return Errorf("employee_id is required")
	}
	e, ok := t.store.GetEmployee(id)
	if !ok {
		return Errorf("Employee '%s' not found", id)
	}
	return OK(map[string]interface{}{"employee": e})
}

// AddEmployeeTool inserts a new employee. Side-effecting, so typically gated
// behind approval in HITL mode.
type AddEmployeeTool struct {
	store *directory.Store
}

func (t *AddEmployeeTool) Name() string { return "add_employee" }
func (t *AddEmployeeTool) Description() string {
	return "Add a new employee to the directory."
}
func (t *AddEmployeeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"employee_id": map[string]interface{}{"type": "string", "description": "Unique employee ID"},
			"name":        map[string]interface{}{"type": "string", "description": "Full name"},
			"department":  map[string]interface{}{"type": "string", "description": "Department name"},
			"position":    map[string]interface{}{"type": "string", "description": "Job title"},
		},
		"required": []string{"employee_id", "name", "department", "position"},
	}
}

func (t *AddEmployeeTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	e := directory.Employee{
		ID:         stringArg(args, "employee_id"),
		Name:       stringArg(args, "name"),
		Department: stringArg(args, "department"),
		Position:   stringArg(args, "position"),
		HireDate:   time.Now().Format("2006-01-02"),
	}
	if e.ID == "" || e.Name == "" {
		return Errorf("employee_id and name are required")
	}
	if err := t.store.AddEmployee(e); err != nil {
		return Errorf("add employee: %v", err)
	}
	return OK(map[string]interface{}{"employee": e})
}

// VacationDaysTool computes an employee's remaining vacation days.
type VacationDaysTool struct {
	store *directory.Store
}

func (t *VacationDaysTool) Name() string { return "calculate_vacation_days" }
func (t *VacationDaysTool) Description() string {
	return "Calculate an employee's remaining vacation days for a year."
}
func (t *VacationDaysTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"employee_id": map[string]interface{}{"type": "string", "description": "Employee ID"},
			"year":        map[string]interface{}{"type": "integer", "description": "Year to query (defaults to the current year)"},
		},
		"required": []string{"employee_id"},
	}
}

func (t *VacationDaysTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	id := stringArg(args, "employee_id")
	if id == "" {
		return Errorf("employee_id is required")
	}
	year, ok := intArg(args, "year")
	if !ok {
		year = time.Now().Year()
	}
	balance, ok := t.store.VacationDays(id, year)
	if !ok {
		return Errorf("No vacation record for employee '%s' in %d", id, year)
	}
	return OK(map[string]interface{}{"vacation": balance})
}

// SearchDocsTool searches internal documents.
type SearchDocsTool struct {
	store *directory.Store
}

func (t *SearchDocsTool) Name() string        { return "search_docs" }
func (t *SearchDocsTool) Description() string { return "Search internal company documents." }
func (t *SearchDocsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Search keyword",
			},
		},
		"required": []string{"query"},
	}
}

func (t *SearchDocsTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query := stringArg(args, "query")
	if query == "" {
		return Errorf("query is required")
	}
	docs, err := t.store.SearchDocs(query)
	if err != nil {
		return Errorf("search docs: %v", err)
	}
	return OK(map[string]interface{}{
		"results": docs,
		"count":   len(docs),
	})
}
