package crmtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"crmdash/pkg/crm"
	"crmdash/pkg/session"
)

type userIDKey struct{}

func withUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey{}, id)
}

func userIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

func (b *Backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	var form crm.LoginForm
	if err := decodeJSON(r, &form); err != nil {
		respondMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	b.mu.Lock()
	password, known := b.passwords[strings.ToLower(form.Email)]
	var userID string
	for id, u := range b.users {
		if strings.EqualFold(u.Email, form.Email) {
			userID = id
		}
	}
	b.mu.Unlock()

	switch {
	case !known:
		respondMessage(w, http.StatusNotFound, "User not found")
		return
	case password != form.Password:
		respondMessage(w, http.StatusUnauthorized, "Invalid password")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"token": b.IssueToken(userID)})
}

func (b *Backend) handleRegister(w http.ResponseWriter, r *http.Request) {
	var form crm.RegisterForm
	if err := decodeJSON(r, &form); err != nil {
		respondMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	b.mu.Lock()
	_, exists := b.passwords[strings.ToLower(form.Email)]
	b.mu.Unlock()
	if exists {
		respondMessage(w, http.StatusBadRequest, "User already exists")
		return
	}

	p := b.AddUser(session.Profile{Name: form.OwnerName, Email: form.Email, OrgName: form.OrgName, Role: "owner"}, form.Password)
	respondJSON(w, http.StatusCreated, crm.Registration{Token: b.IssueToken(p.ID), Email: p.Email, ID: p.ID})
}

func (b *Backend) handleUser(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	hold := b.userHold
	b.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}

	b.mu.Lock()
	user, ok := b.users[userIDFrom(r.Context())]
	b.mu.Unlock()
	if !ok {
		respondMessage(w, http.StatusUnauthorized, "User no longer exists")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (b *Backend) handleUsers(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	out := make([]crm.Assignee, 0, len(b.users))
	for _, u := range b.users {
		out = append(out, crm.Assignee{ID: u.ID, Name: u.Name})
	}
	b.mu.Unlock()
	respondJSON(w, http.StatusOK, out)
}

func (b *Backend) handleMetrics(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	m := b.metrics[chi.URLParam(r, "userID")]
	b.mu.Unlock()
	respondJSON(w, http.StatusOK, m)
}

func (b *Backend) handleMonthly(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	m := b.monthly
	b.mu.Unlock()
	if m.ClosedWonData == nil {
		m.ClosedWonData = []crm.MonthWon{}
	}
	if m.ClosedLostData == nil {
		m.ClosedLostData = []crm.MonthLost{}
	}
	respondJSON(w, http.StatusOK, m)
}

func (b *Backend) handleContacts(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"contacts": b.Contacts()})
}

func (b *Backend) handleContact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	for _, c := range b.Contacts() {
		if c.ID == id {
			respondJSON(w, http.StatusOK, map[string]any{"contact": c})
			return
		}
	}
	respondMessage(w, http.StatusNotFound, "Contact not found")
}

func (b *Backend) handleAddContact(w http.ResponseWriter, r *http.Request) {
	var form crm.ContactForm
	if err := decodeJSON(r, &form); err != nil {
		respondMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if form.Name == "" || form.Email == "" {
		respondMessage(w, http.StatusBadRequest, "Name and email are required")
		return
	}

	b.mu.Lock()
	b.nextID++
	c := crm.Contact{
		ID:         fmt.Sprintf("c-%d", b.nextID),
		Name:       form.Name,
		Email:      form.Email,
		Phone:      form.Phone,
		Company:    form.Company,
		Position:   form.Position,
		Notes:      form.Notes,
		Status:     form.Status,
		AssignedTo: form.AssignedTo,
	}
	b.contacts = append(b.contacts, c)
	b.mu.Unlock()

	respondJSON(w, http.StatusCreated, map[string]any{"message": "Contact added", "contact": c})
}

func (b *Backend) handleDeleteContact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	b.mu.Lock()
	idx := -1
	for i, c := range b.contacts {
		if c.ID == id {
			idx = i
			break
		}
	}
	if idx >= 0 {
		b.contacts = append(b.contacts[:idx], b.contacts[idx+1:]...)
	}
	b.mu.Unlock()

	if idx < 0 {
		respondMessage(w, http.StatusNotFound, "Contact not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Contact deleted"})
}

func (b *Backend) handleTasks(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	tasks := append([]crm.Task(nil), b.tasks...)
	b.mu.Unlock()
	respondJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func respondMessage(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"message": msg})
}
