package console

import (
	"context"

	"crmdash/pkg/crm"
	"crmdash/pkg/session"
)

// SignIn exchanges credentials for a token and hands it to the session.
func (a *App) SignIn(ctx context.Context, form crm.LoginForm) (session.Profile, error) {
	if a.Session.Status() == session.StatusAuthenticated {
		return session.Profile{}, session.ErrAlreadyAuthenticated
	}
	token, err := a.CRM.Login(ctx, form)
	if err != nil {
		a.logger.Debug().Err(err).Msg("sign in rejected")
		return session.Profile{}, err
	}
	return a.Session.Login(ctx, token)
}

// Register creates an account and signs into it with the returned token.
func (a *App) Register(ctx context.Context, form crm.RegisterForm) (session.Profile, error) {
	if a.Session.Status() == session.StatusAuthenticated {
		return session.Profile{}, session.ErrAlreadyAuthenticated
	}
	reg, err := a.CRM.Register(ctx, form)
	if err != nil {
		return session.Profile{}, err
	}
	return a.Session.Login(ctx, reg.Token)
}

// SignOut ends the session locally.
func (a *App) SignOut() error {
	return a.Session.Logout()
}

// AddContact submits a new contact for the signed-in user.
func (a *App) AddContact(ctx context.Context, form crm.ContactForm) (crm.Contact, error) {
	if err := a.requireSession(); err != nil {
		return crm.Contact{}, err
	}
	return a.CRM.AddContact(ctx, form)
}

// DeleteContact removes a contact for the signed-in user.
func (a *App) DeleteContact(ctx context.Context, id string) error {
	if err := a.requireSession(); err != nil {
		return err
	}
	return a.CRM.DeleteContact(ctx, id)
}

// Contact loads a single contact for the signed-in user.
func (a *App) Contact(ctx context.Context, id string) (crm.Contact, error) {
	if err := a.requireSession(); err != nil {
		return crm.Contact{}, err
	}
	return a.CRM.Contact(ctx, id)
}

func (a *App) requireSession() error {
	if a.Session.Status() != session.StatusAuthenticated {
		return ErrSignedOut
	}
	return nil
}
