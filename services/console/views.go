package console

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"crmdash/pkg/crm"
	"crmdash/pkg/session"
	"crmdash/pkg/task"
	"crmdash/pkg/view"
	"crmdash/pkg/widgets"
)

// Names of the protected views.
const (
	ViewDashboard = "dashboard"
	ViewContacts  = "contacts"
	ViewTasks     = "tasks"
	ViewUsers     = "users"
)

// Dashboard is the landing view.
type Dashboard struct {
	Tiles   []widgets.Tile `json:"tiles"`
	Monthly widgets.Series `json:"monthly"`
	Deals   widgets.Donut  `json:"deals"`
}

// FetchDashboard loads the metrics and the monthly breakdown in parallel.
func (a *App) FetchDashboard(ctx context.Context, user session.Profile) (Dashboard, error) {
	var (
		m       crm.Metrics
		monthly crm.MonthlyData
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		m, err = a.CRM.Metrics(ctx, user.ID)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		monthly, err = a.CRM.MonthlyData(ctx)
		if err != nil {
			return fmt.Errorf("monthly data: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}

	return Dashboard{
		Tiles:   widgets.KPIs(m),
		Monthly: widgets.MonthlySeries(monthly),
		Deals:   widgets.DealOutcome(m),
	}, nil
}

// FetchContacts loads the contacts table.
func (a *App) FetchContacts(ctx context.Context, _ session.Profile) ([]crm.Contact, error) {
	return a.CRM.Contacts(ctx)
}

// FetchTasks loads the task board.
func (a *App) FetchTasks(ctx context.Context, _ session.Profile) ([]crm.Task, error) {
	return a.CRM.Tasks(ctx)
}

// FetchAssignees loads the users offered in assignment pickers.
func (a *App) FetchAssignees(ctx context.Context, _ session.Profile) ([]crm.Assignee, error) {
	users, err := a.CRM.Users(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, nil
}

// MountView mounts a protected view on the app's session, counting fetch
// outcomes in the app metrics.
func MountView[T any](ctx context.Context, a *App, name string, fetch view.FetchFunc[T]) *view.Gate[T] {
	counted := func(ctx context.Context, user session.Profile) (T, error) {
		res := task.Run(ctx, func(ctx context.Context) (T, error) { return fetch(ctx, user) })
		a.Metrics.ObserveFetch(name, res.Outcome.String())
		if res.Outcome == task.Succeeded {
			return res.Value, nil
		}
		if res.Err == nil {
			return res.Value, errors.New("fetch did not complete")
		}
		return res.Value, res.Err
	}
	return view.Mount(ctx, a.Session, counted, view.Options{
		Name:   name,
		Logger: a.logger,
	})
}

// Rendered is a type-erased view state.
type Rendered struct {
	Phase view.Phase       `json:"phase"`
	User  *session.Profile `json:"user,omitempty"`
	Data  any              `json:"data,omitempty"`
	Err   error            `json:"-"`
}

// Viewer is a mounted view of any data type.
type Viewer interface {
	Render() Rendered
	Refresh()
	Unmount()
}

type gateViewer[T any] struct {
	*view.Gate[T]
}

func (g gateViewer[T]) Render() Rendered {
	s := g.State()
	r := Rendered{Phase: s.Phase, User: s.User, Err: s.Err}
	if s.Phase == view.PhaseReady {
		r.Data = s.Data
	}
	return r
}

// Views holds the mounted protected views by name.
type Views struct {
	byName map[string]Viewer
}

// MountViews mounts every protected view. Unmount them with Views.Close.
func (a *App) MountViews(ctx context.Context) *Views {
	return &Views{byName: map[string]Viewer{
		ViewDashboard: gateViewer[Dashboard]{MountView(ctx, a, ViewDashboard, a.FetchDashboard)},
		ViewContacts:  gateViewer[[]crm.Contact]{MountView(ctx, a, ViewContacts, a.FetchContacts)},
		ViewTasks:     gateViewer[[]crm.Task]{MountView(ctx, a, ViewTasks, a.FetchTasks)},
		ViewUsers:     gateViewer[[]crm.Assignee]{MountView(ctx, a, ViewUsers, a.FetchAssignees)},
	}}
}

// Get returns the named view.
func (v *Views) Get(name string) (Viewer, bool) {
	vw, ok := v.byName[name]
	return vw, ok
}

// Refresh refetches the named views.
func (v *Views) Refresh(names ...string) {
	for _, n := range names {
		if vw, ok := v.byName[n]; ok {
			vw.Refresh()
		}
	}
}

// Close unmounts every view.
func (v *Views) Close() {
	for _, vw := range v.byName {
		vw.Unmount()
	}
}
