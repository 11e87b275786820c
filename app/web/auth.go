package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"golang.org/x/crypto/bcrypt"

	"github.com/umputun/chartreport/app/store"
)

const authCookie = "chartreport-auth"

type ctxKey struct{}

var reUsername = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,32}$`)

// handleLoginForm displays the login form
func (s *Server) handleLoginForm(w http.ResponseWriter, _ *http.Request) {
	s.render(w, http.StatusOK, "login.html", s.newTemplateData(store.User{}))
}

// handleLogin checks credentials and starts a session
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}
	username, password := strings.TrimSpace(r.FormValue("username")), r.FormValue("password")
	if username == "" || password == "" {
		s.renderFormError(w, "login.html", "Username and password are required")
		return
	}

	user, ok := s.checkCredentials(r.Context(), username, password)
	if !ok {
		log.Printf("[INFO] failed login for %q from %s", username, r.RemoteAddr)
		s.renderFormError(w, "login.html", "Invalid username or password")
		return
	}
	s.startSession(w, r, user.ID)
	log.Printf("[INFO] user %s logged in", user.Username)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleLogout drops the session and clears the auth cookie
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(authCookie); err == nil {
		s.sessionsMu.Lock()
		delete(s.sessions, cookie.Value)
		s.sessionsMu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1, // delete cookie
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https",
	})
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// handleRegisterForm displays the registration form
func (s *Server) handleRegisterForm(w http.ResponseWriter, _ *http.Request) {
	s.render(w, http.StatusOK, "register.html", s.newTemplateData(store.User{}))
}

// handleRegister creates a user and logs it in
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}
	username := strings.TrimSpace(r.FormValue("username"))
	email := strings.TrimSpace(r.FormValue("email"))
	password := r.FormValue("password")

	switch {
	case !reUsername.MatchString(username):
		s.renderFormError(w, "register.html", "Username must be 3-32 letters, digits, dots, dashes or underscores")
		return
	case email != "" && !strings.Contains(email, "@"):
		s.renderFormError(w, "register.html", "Invalid email")
		return
	case len(password) < 8:
		s.renderFormError(w, "register.html", "Password must be at least 8 characters")
		return
	case password != r.FormValue("password_confirm"):
		s.renderFormError(w, "register.html", "Passwords do not match")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("[ERROR] failed to hash password: %v", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	user, err := s.store.CreateUser(r.Context(), store.User{Username: username, Email: email, PasswordHash: string(hash)})
	if errors.Is(err, store.ErrExists) {
		s.renderFormError(w, "register.html", "Username is already taken")
		return
	}
	if err != nil {
		log.Printf("[ERROR] failed to create user %s: %v", username, err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	log.Printf("[INFO] user %s registered", user.Username)
	s.startSession(w, r, user.ID)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// renderFormError renders a login or register form with an error message
func (s *Server) renderFormError(w http.ResponseWriter, page, msg string) {
	data := s.newTemplateData(store.User{})
	data.Error = msg
	s.render(w, http.StatusUnauthorized, page, data)
}

// authMiddleware resolves the user from the session cookie or basic auth and puts it to the request context
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" || r.URL.Path == "/register" || r.URL.Path == "/logout" ||
			strings.HasPrefix(r.URL.Path, "/static/") {
			next.ServeHTTP(w, r)
			return
		}

		if cookie, err := r.Cookie(authCookie); err == nil {
			if userID, ok := s.sessionUser(cookie.Value); ok {
				if user, err := s.store.GetUser(r.Context(), userID); err == nil {
					next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, user)))
					return
				}
			}
		}

		// fallback to basic auth for API clients
		if username, password, ok := r.BasicAuth(); ok {
			if user, ok := s.checkCredentials(r.Context(), username, password); ok {
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, user)))
				return
			}
		}

		if r.Header.Get("Accept") == "" || strings.Contains(r.Header.Get("Accept"), "text/html") {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="chartreport"`)
		s.writeJSONError(w, http.StatusUnauthorized, "unauthorized")
	})
}

// userFrom returns the user set by authMiddleware
func userFrom(r *http.Request) (store.User, bool) {
	user, ok := r.Context().Value(ctxKey{}).(store.User)
	return user, ok
}

func (s *Server) checkCredentials(ctx context.Context, username, password string) (store.User, bool) {
	user, err := s.store.GetUserByName(ctx, username)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("[WARN] failed to load user %q: %v", username, err)
		}
		return store.User{}, false
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, false
	}
	return user, true
}

// startSession makes a session token and sets the auth cookie
func (s *Server) startSession(w http.ResponseWriter, r *http.Request, userID int64) {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf) // never returns an error
	token := hex.EncodeToString(buf)

	s.sessionsMu.Lock()
	s.cleanupSessionsLocked(time.Now())
	s.sessions[token] = session{userID: userID, createdAt: time.Now()}
	s.sessionsMu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.loginTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https",
	})
}

// sessionUser returns the user id of a live session, expired sessions are removed
func (s *Server) sessionUser(token string) (int64, bool) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return 0, false
	}
	if time.Since(sess.createdAt) > s.loginTTL {
		delete(s.sessions, token)
		return 0, false
	}
	return sess.userID, true
}

// cleanupSessionsLocked removes expired sessions, must be called with sessionsMu held
func (s *Server) cleanupSessionsLocked(now time.Time) {
	for token, sess := range s.sessions {
		if now.Sub(sess.createdAt) > s.loginTTL {
			delete(s.sessions, token)
		}
	}
}
