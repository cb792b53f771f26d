// Package target holds the static registry of target profiles: everything
// the exploit generators need to know about a supported application that
// cannot be derived from captured traffic (test credentials, login shape,
// token extraction).
package target

import (
	"fmt"
	"strings"

	"github.com/BetterCallFirewall/llmitm/internal/models"
)

// Credentials is one test account.
type Credentials struct {
	Identifier string
	Password   string
}

// Profile describes a target under test. UserA plays the attacker, UserB
// the victim; both must be ordinary accounts the tester controls.
type Profile struct {
	Name          string
	BaseURL       string
	AuthModel     models.AuthModel
	LoginPath     string
	UserA         Credentials
	UserB         Credentials
	LoginIDField  string
	LoginPWField  string
	ExtraFields   map[string]string
	TokenJSONPath string
	SessionCookie string
	CSRFPagePath  string
	CSRFPattern   string
	CSRFField     string
	AccountIDHint string
	AdminPaths    []string
	RoleField     string
}

// LoginBody builds the credential payload for one of the two test users.
func (p Profile) LoginBody(c Credentials) map[string]any {
	body := map[string]any{
		p.LoginIDField: c.Identifier,
		p.LoginPWField: c.Password,
	}
	for k, v := range p.ExtraFields {
		body[k] = v
	}
	return body
}

// builtins are the three applications the agent ships support for. The
// credentials are the targets' documented seed accounts.
var builtins = map[string]Profile{
	"juice_shop": {
		Name:          "juice_shop",
		BaseURL:       "http://localhost:3000",
		AuthModel:     models.AuthBearerToken,
		LoginPath:     "/rest/user/login",
		UserA:         Credentials{Identifier: "jim@juice-sh.op", Password: "ncc-1701"},
		UserB:         Credentials{Identifier: "bender@juice-sh.op", Password: "OhG0dPlease1nsertLiquor!"},
		LoginIDField:  "email",
		LoginPWField:  "password",
		TokenJSONPath: "authentication.token",
		AccountIDHint: "1",
		AdminPaths:    []string{"/rest/admin/application-configuration", "/api/Users"},
		RoleField:     "role",
	},
	"nodegoat": {
		Name:          "nodegoat",
		BaseURL:       "http://localhost:4000",
		AuthModel:     models.AuthSessionCookie,
		LoginPath:     "/login",
		UserA:         Credentials{Identifier: "user1", Password: "User1_123"},
		UserB:         Credentials{Identifier: "user2", Password: "User2_123"},
		LoginIDField:  "userName",
		LoginPWField:  "password",
		SessionCookie: "connect.sid",
		AccountIDHint: "2",
		AdminPaths:    []string{"/benefits"},
		RoleField:     "isAdmin",
	},
	"dvwa": {
		Name:          "dvwa",
		BaseURL:       "http://localhost:8080",
		AuthModel:     models.AuthSessionCookie,
		LoginPath:     "/login.php",
		UserA:         Credentials{Identifier: "admin", Password: "password"},
		UserB:         Credentials{Identifier: "gordonb", Password: "abc123"},
		LoginIDField:  "username",
		LoginPWField:  "password",
		ExtraFields:   map[string]string{"Login": "Login"},
		SessionCookie: "PHPSESSID",
		CSRFPagePath:  "/login.php",
		CSRFPattern:   `name='user_token'\s+value='([0-9a-f]+)'`,
		CSRFField:     "user_token",
		AccountIDHint: "1",
		AdminPaths:    []string{"/vulnerabilities/authbypass/"},
		RoleField:     "user_level",
	},
}

// Lookup returns the named built-in profile. An unknown name yields a
// generic profile derived from the fingerprint so recon can still run; the
// generators will refuse exploits that need credentials it lacks.
func Lookup(name string, baseURL string, fp *models.Fingerprint) Profile {
	if p, ok := builtins[strings.ToLower(name)]; ok {
		if baseURL != "" {
			p.BaseURL = baseURL
		}
		return p
	}
	p := Profile{
		Name:         name,
		BaseURL:      baseURL,
		AuthModel:    models.AuthNone,
		LoginPath:    "/login",
		LoginIDField: "username",
		LoginPWField: "password",
	}
	if fp != nil {
		p.AuthModel = fp.AuthModel
	}
	return p
}

// Names lists the built-in profile names for CLI help.
func Names() []string {
	return []string{"juice_shop", "nodegoat", "dvwa"}
}

// Summary renders the profile for recon prompts, credentials redacted.
func (p Profile) Summary() string {
	return fmt.Sprintf("name=%s base_url=%s auth=%s login=%s users=[%s, %s]",
		p.Name, p.BaseURL, p.AuthModel, p.LoginPath, p.UserA.Identifier, p.UserB.Identifier)
}
