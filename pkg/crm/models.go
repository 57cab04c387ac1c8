package crm

// Registration is returned by a successful account creation.
type Registration struct {
	Token string `json:"token"`
	Email string `json:"email"`
	ID    string `json:"_id"`
}

// Contact is a row of the contacts table.
type Contact struct {
	ID          string         `json:"_id"`
	Name        string         `json:"name"`
	Email       string         `json:"email"`
	Phone       string         `json:"phone,omitempty"`
	Company     string         `json:"company,omitempty"`
	Position    string         `json:"position,omitempty"`
	Notes       string         `json:"notes,omitempty"`
	Status      string         `json:"status,omitempty"`
	AssignedTo  string         `json:"assignedTo,omitempty"`
	LeadDetails map[string]any `json:"leadDetails,omitempty"`
}

// Task is an item on the task board.
type Task struct {
	ID          string `json:"_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
	AssignedTo  string `json:"assignedTo,omitempty"`
	DueDate     string `json:"dueDate,omitempty"`
	Progress    int    `json:"progress,omitempty"`
}

// Assignee is an option in the "assigned to" pickers of the forms.
type Assignee struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}

// Metrics are the dashboard aggregates for one user.
type Metrics struct {
	TotalClients            int              `json:"totalClients"`
	TotalLeads              int              `json:"totalLeads"`
	TotalProspects          int              `json:"totalProspects"`
	TotalRevenue            float64          `json:"totalRevenue"`
	WinRate                 float64          `json:"winRate"`
	DealsStatusDistribution DealDistribution `json:"dealsStatusDistribution"`
}

// DealDistribution counts deals per pipeline stage.
type DealDistribution struct {
	Negotiation int `json:"negotiation"`
	ClosedWon   int `json:"closedWon"`
	ClosedLost  int `json:"closedLost"`
}

// MonthlyData is the per-month breakdown behind the revenue chart.
type MonthlyData struct {
	ClosedWonData  []MonthWon  `json:"closedWonData"`
	ClosedLostData []MonthLost `json:"closedLostData"`
}

// MonthWon aggregates won deals for a calendar month (1-12).
type MonthWon struct {
	Month        int     `json:"month"`
	TotalWon     float64 `json:"totalWon"`
	TotalRevenue float64 `json:"totalRevenue"`
}

// MonthLost aggregates lost deals for a calendar month (1-12).
type MonthLost struct {
	Month     int     `json:"month"`
	TotalLost float64 `json:"totalLost"`
}
