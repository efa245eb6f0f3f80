package jenkins_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/CodeMC/bot/internal/components/remote"
	"github.com/CodeMC/bot/internal/components/remote/jenkins"
	httpclient "github.com/CodeMC/bot/internal/platform/http/client"
)

const credentialsProperty = "com.cloudbees.hudson.plugins.folder.properties.FolderCredentialsProvider_-FolderCredentialsProperty"

// fakeJenkins keeps just enough state to answer the calls the client makes.
// A folder's credential lives in its config.xml, so posting a config that
// omits the credentials property drops it.
type fakeJenkins struct {
	mu          sync.Mutex
	accounts    map[string]string // login -> password
	folders     map[string]string // folder -> config.xml
	jobs        map[string]map[string]string
	credentials map[string]string // folder -> credential xml
	builds      map[string]int
	configPosts int
	failFolders int // createItem calls to reject with 500
}

func newFakeJenkins(t *testing.T) (*fakeJenkins, *httptest.Server) {
	t.Helper()
	f := &fakeJenkins{
		accounts:    make(map[string]string),
		folders:     make(map[string]string),
		jobs:        make(map[string]map[string]string),
		credentials: make(map[string]string),
		builds:      make(map[string]int),
	}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, token, ok := r.BasicAuth()
			if !ok || user != "admin" || token != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Get("/api/json", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var parts []string
		for name := range f.folders {
			parts = append(parts, `{"_class":"com.cloudbees.hudson.plugins.folder.Folder","name":"`+name+`"}`)
		}
		parts = append(parts, `{"_class":"hudson.model.FreeStyleProject","name":"loose-job"}`)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"jobs":[`+strings.Join(parts, ",")+`]}`)
	})
	r.Post("/securityRealm/createAccountByAdmin", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		f.mu.Lock()
		defer f.mu.Unlock()
		_, taken := f.accounts[r.Form.Get("username")]
		if taken || r.Form.Get("password1") != r.Form.Get("password2") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.accounts[r.Form.Get("username")] = r.Form.Get("password1")
		http.Redirect(w, r, "/", http.StatusFound)
	})
	r.Get("/securityRealm/user/{user}/api/json", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.accounts[chi.URLParam(r, "user")]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		io.WriteString(w, `{"id":"`+chi.URLParam(r, "user")+`"}`)
	})
	r.Post("/securityRealm/user/{user}/doDelete", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.accounts[chi.URLParam(r, "user")]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(f.accounts, chi.URLParam(r, "user"))
		http.Redirect(w, r, "/", http.StatusFound)
	})
	r.Post("/createItem", func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failFolders > 0 {
			f.failFolders--
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if _, ok := f.folders[name]; ok {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.folders[name] = string(body)
		f.jobs[name] = make(map[string]string)
	})
	r.Route("/job/{user}", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				f.mu.Lock()
				_, ok := f.folders[chi.URLParam(r, "user")]
				f.mu.Unlock()
				if !ok {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				next.ServeHTTP(w, r)
			})
		})
		r.Get("/api/json", func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"_class":"com.cloudbees.hudson.plugins.folder.Folder"}`)
		})
		r.Get("/config.xml", func(w http.ResponseWriter, r *http.Request) {
			user := chi.URLParam(r, "user")
			f.mu.Lock()
			defer f.mu.Unlock()
			config := f.folders[user]
			if _, ok := f.credentials[user]; ok && !strings.Contains(config, credentialsProperty) {
				config = strings.Replace(config, "<properties>",
					"<properties>\n    <"+credentialsProperty+">\n      <domainCredentialsMap/>\n    </"+credentialsProperty+">", 1)
			}
			io.WriteString(w, config)
		})
		r.Post("/config.xml", func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			user := chi.URLParam(r, "user")
			f.mu.Lock()
			f.folders[user] = string(body)
			if !strings.Contains(string(body), "<"+credentialsProperty) {
				delete(f.credentials, user)
			}
			f.configPosts++
			f.mu.Unlock()
		})
		r.Post("/doDelete", func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			delete(f.folders, chi.URLParam(r, "user"))
			delete(f.jobs, chi.URLParam(r, "user"))
			delete(f.credentials, chi.URLParam(r, "user"))
			f.mu.Unlock()
			http.Redirect(w, r, "/", http.StatusFound)
		})
		r.Post("/createItem", func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			f.jobs[chi.URLParam(r, "user")][r.URL.Query().Get("name")] = string(body)
			f.mu.Unlock()
		})
		r.Post("/credentials/store/folder/domain/_/createCredentials", func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			defer f.mu.Unlock()
			if _, ok := f.credentials[chi.URLParam(r, "user")]; ok {
				w.WriteHeader(http.StatusConflict)
				return
			}
			f.credentials[chi.URLParam(r, "user")] = string(body)
		})
		r.Get("/credentials/store/folder/domain/_/credential/{id}/api/json", func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			defer f.mu.Unlock()
			cred, ok := f.credentials[chi.URLParam(r, "user")]
			if !ok || !strings.Contains(cred, "<id>"+chi.URLParam(r, "id")+"</id>") {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			io.WriteString(w, `{"id":"`+chi.URLParam(r, "id")+`"}`)
		})
		r.Post("/credentials/store/folder/domain/_/credential/{id}/config.xml", func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			f.credentials[chi.URLParam(r, "user")] = string(body)
			f.mu.Unlock()
		})
		r.Route("/job/{job}", func(r chi.Router) {
			r.Use(func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					f.mu.Lock()
					_, ok := f.jobs[chi.URLParam(r, "user")][chi.URLParam(r, "job")]
					f.mu.Unlock()
					if !ok {
						w.WriteHeader(http.StatusNotFound)
						return
					}
					next.ServeHTTP(w, r)
				})
			})
			r.Get("/api/json", func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, `{"name":"`+chi.URLParam(r, "job")+`","url":"http://ci/job/x/","buildable":true,"color":"blue","lastBuild":{"number":7,"result":"SUCCESS"}}`)
			})
			r.Post("/build", func(w http.ResponseWriter, r *http.Request) {
				f.mu.Lock()
				f.builds[chi.URLParam(r, "user")+"/"+chi.URLParam(r, "job")]++
				f.mu.Unlock()
				w.WriteHeader(http.StatusCreated)
			})
			r.Post("/doDelete", func(w http.ResponseWriter, r *http.Request) {
				f.mu.Lock()
				delete(f.jobs[chi.URLParam(r, "user")], chi.URLParam(r, "job"))
				f.mu.Unlock()
				http.Redirect(w, r, "/", http.StatusFound)
			})
		})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return f, srv
}

func newClient(t *testing.T, url string) *jenkins.Client {
	t.Helper()
	c, err := jenkins.NewClient(jenkins.ClientConfig{
		Config: jenkins.Config{
			URL:           url,
			Username:      "admin",
			Token:         "secret",
			RepositoryURL: "https://repo.example.org/repository/",
		},
		HTTPClient: httpclient.NewContextClient(httpclient.New(nil)),
		IsGroup:    func(name string) bool { return strings.HasSuffix(name, "Team") },
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClient_Validation(t *testing.T) {
	hc := httpclient.NewContextClient(httpclient.New(nil))
	if _, err := jenkins.NewClient(jenkins.ClientConfig{HTTPClient: hc}); err == nil {
		t.Error("expected error for empty url")
	}
	if _, err := jenkins.NewClient(jenkins.ClientConfig{Config: jenkins.Config{URL: "https://ci.example.org"}}); err == nil {
		t.Error("expected error for missing HTTPClient")
	}
}

func TestCreateUser_Individual(t *testing.T) {
	f, srv := newFakeJenkins(t)
	c := newClient(t, srv.URL)
	ctx := context.Background()

	exists, err := c.UserExists(ctx, "Alice")
	if err != nil || exists {
		t.Fatalf("UserExists before create = %v, %v", exists, err)
	}

	if err := c.CreateUser(ctx, "Alice", "pw-1", false); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	exists, err = c.UserExists(ctx, "Alice")
	if err != nil || !exists {
		t.Fatalf("UserExists after create = %v, %v", exists, err)
	}
	if f.accounts["Alice"] != "pw-1" {
		t.Errorf("login account password = %q", f.accounts["Alice"])
	}
	if !strings.Contains(f.folders["Alice"], "USER:hudson.model.Item.Build:Alice") {
		t.Error("individual folder should grant the user matrix permissions")
	}
	cred := f.credentials["Alice"]
	if !strings.Contains(cred, "<id>nexus-repository</id>") || !strings.Contains(cred, "<username>alice</username>") || !strings.Contains(cred, "<password>pw-1</password>") {
		t.Errorf("unexpected credential xml:\n%s", cred)
	}
}

func TestCreateUser_RetryCompletesPartialAccount(t *testing.T) {
	f, srv := newFakeJenkins(t)
	c := newClient(t, srv.URL)
	ctx := context.Background()

	f.failFolders = 1
	if err := c.CreateUser(ctx, "Alice", "pw-1", false); !errors.Is(err, remote.ErrRemote) {
		t.Fatalf("expected ErrRemote on folder failure, got %v", err)
	}
	if _, ok := f.accounts["Alice"]; !ok {
		t.Fatal("login account should exist after the partial failure")
	}
	if _, ok := f.folders["Alice"]; ok {
		t.Fatal("folder should not exist after the partial failure")
	}

	if err := c.CreateUser(ctx, "Alice", "pw-1", false); err != nil {
		t.Fatalf("retry CreateUser: %v", err)
	}
	if len(f.accounts) != 1 || len(f.folders) != 1 {
		t.Errorf("accounts = %d, folders = %d, want one each", len(f.accounts), len(f.folders))
	}
	if !strings.Contains(f.credentials["Alice"], "<password>pw-1</password>") {
		t.Errorf("credential missing after retry:\n%s", f.credentials["Alice"])
	}

	// A full repeat is a no-op apart from the credential upsert.
	if err := c.CreateUser(ctx, "Alice", "pw-1", false); err != nil {
		t.Errorf("repeat CreateUser: %v", err)
	}
}

func TestCreateUser_Group(t *testing.T) {
	f, srv := newFakeJenkins(t)
	c := newClient(t, srv.URL)

	if err := c.CreateUser(context.Background(), "RedTeam", "pw", true); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, ok := f.accounts["RedTeam"]; ok {
		t.Error("group accounts must not get a login")
	}
	if strings.Contains(f.folders["RedTeam"], "AuthorizationMatrixProperty") {
		t.Error("group folders carry no user permissions")
	}
}

func TestCreateUser_EscapesXML(t *testing.T) {
	f, srv := newFakeJenkins(t)
	c := newClient(t, srv.URL)

	if err := c.CreateUser(context.Background(), "Eve", "a<b&c", false); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if !strings.Contains(f.credentials["Eve"], "<password>a&lt;b&amp;c</password>") {
		t.Errorf("password not escaped:\n%s", f.credentials["Eve"])
	}
}

func TestChangePassword_Upsert(t *testing.T) {
	f, srv := newFakeJenkins(t)
	c := newClient(t, srv.URL)
	ctx := context.Background()

	if err := c.CreateUser(ctx, "Alice", "first", false); err != nil {
		t.Fatal(err)
	}
	if err := c.ChangePassword(ctx, "Alice", "second"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if !strings.Contains(f.credentials["Alice"], "<password>second</password>") {
		t.Errorf("credential not updated:\n%s", f.credentials["Alice"])
	}
}

func TestChangePassword_MissingUser(t *testing.T) {
	_, srv := newFakeJenkins(t)
	c := newClient(t, srv.URL)

	err := c.ChangePassword(context.Background(), "Nobody", "pw")
	if !errors.Is(err, remote.ErrRemote) {
		t.Fatalf("expected ErrRemote, got %v", err)
	}
}

func TestJobLifecycle(t *testing.T) {
	f, srv := newFakeJenkins(t)
	c := newClient(t, srv.URL)
	ctx := context.Background()

	if err := c.CreateUser(ctx, "Alice", "pw", false); err != nil {
		t.Fatal(err)
	}

	info, err := c.GetJobInfo(ctx, "Alice", "proj")
	if err != nil || info != nil {
		t.Fatalf("GetJobInfo before create = %+v, %v", info, err)
	}

	if err := c.CreateJob(ctx, "Alice", "proj", "https://github.com/alice/proj", false); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	cfg := f.jobs["Alice"]["proj"]
	if !strings.HasPrefix(strings.TrimSpace(cfg), "<?xml") || !strings.Contains(cfg, "<maven2-moduleset") {
		t.Errorf("expected maven job config, got:\n%s", cfg)
	}
	if !strings.Contains(cfg, "<url>https://repo.example.org/repository/</url>") {
		t.Error("maven job should deploy to the repository url")
	}

	if err := c.TriggerBuild(ctx, "Alice", "proj"); err != nil {
		t.Fatalf("TriggerBuild: %v", err)
	}
	if f.builds["Alice/proj"] != 1 {
		t.Errorf("builds = %d, want 1", f.builds["Alice/proj"])
	}

	info, err = c.GetJobInfo(ctx, "Alice", "proj")
	if err != nil || info == nil {
		t.Fatalf("GetJobInfo = %+v, %v", info, err)
	}
	if info.Name != "proj" || info.LastBuildNumber != 7 || info.LastBuildResult != "SUCCESS" || !info.Buildable {
		t.Errorf("unexpected job info %+v", info)
	}

	if err := c.DeleteJob(ctx, "Alice", "proj"); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if err := c.DeleteJob(ctx, "Alice", "proj"); err != nil {
		t.Fatalf("DeleteJob of missing job should succeed: %v", err)
	}
	if _, ok := f.jobs["Alice"]["proj"]; ok {
		t.Error("job still present after delete")
	}
}

func TestCreateJob_Freestyle(t *testing.T) {
	f, srv := newFakeJenkins(t)
	c := newClient(t, srv.URL)
	ctx := context.Background()

	c.CreateUser(ctx, "Alice", "pw", false)
	if err := c.CreateJob(ctx, "Alice", "proj", "https://github.com/alice/proj", true); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(f.jobs["Alice"]["proj"], "<project>") {
		t.Errorf("expected freestyle config:\n%s", f.jobs["Alice"]["proj"])
	}
}

func TestTriggerBuild_MissingJob(t *testing.T) {
	_, srv := newFakeJenkins(t)
	c := newClient(t, srv.URL)

	if err := c.TriggerBuild(context.Background(), "Alice", "nope"); !errors.Is(err, remote.ErrRemote) {
		t.Fatalf("expected ErrRemote, got %v", err)
	}
}

func TestDeleteUser(t *testing.T) {
	f, srv := newFakeJenkins(t)
	c := newClient(t, srv.URL)
	ctx := context.Background()

	c.CreateUser(ctx, "Alice", "pw", false)
	if err := c.DeleteUser(ctx, "Alice"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if len(f.accounts) != 0 || len(f.folders) != 0 {
		t.Errorf("leftovers after delete: accounts=%v folders=%d", f.accounts, len(f.folders))
	}
	if err := c.DeleteUser(ctx, "Alice"); err != nil {
		t.Fatalf("second DeleteUser should succeed: %v", err)
	}
}

func TestEnsureUserConfig(t *testing.T) {
	f, srv := newFakeJenkins(t)
	c := newClient(t, srv.URL)
	ctx := context.Background()

	if err := c.CreateUser(ctx, "BlueTeam", "pw", true); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := c.EnsureUserConfig(ctx, "BlueTeam"); err != nil {
			t.Fatalf("EnsureUserConfig #%d: %v", i+1, err)
		}
	}
	if f.configPosts != 2 {
		t.Errorf("config posts = %d, want 2", f.configPosts)
	}
	if strings.Contains(f.folders["BlueTeam"], "AuthorizationMatrixProperty") {
		t.Error("group predicate should drive the baseline config")
	}
	if !strings.Contains(f.folders["BlueTeam"], credentialsProperty) {
		t.Error("credentials property dropped from the folder config")
	}
	if !strings.Contains(f.credentials["BlueTeam"], "<password>pw</password>") {
		t.Errorf("credential lost across EnsureUserConfig: %q", f.credentials["BlueTeam"])
	}

	if err := c.EnsureUserConfig(ctx, "Missing"); !errors.Is(err, remote.ErrRemote) {
		t.Errorf("expected ErrRemote for missing folder, got %v", err)
	}
}

func TestEnsureUserConfig_ReportsMissingCredential(t *testing.T) {
	f, srv := newFakeJenkins(t)
	c := newClient(t, srv.URL)
	ctx := context.Background()

	if err := c.CreateUser(ctx, "Alice", "pw", false); err != nil {
		t.Fatal(err)
	}
	f.mu.Lock()
	delete(f.credentials, "Alice")
	f.mu.Unlock()

	err := c.EnsureUserConfig(ctx, "Alice")
	if !errors.Is(err, remote.ErrCredentialMissing) {
		t.Fatalf("expected ErrCredentialMissing, got %v", err)
	}
	if f.configPosts != 1 {
		t.Errorf("baseline config should still be applied, posts = %d", f.configPosts)
	}

	if err := c.ChangePassword(ctx, "Alice", "pw"); err != nil {
		t.Fatal(err)
	}
	if err := c.EnsureUserConfig(ctx, "Alice"); err != nil {
		t.Errorf("EnsureUserConfig after rebind: %v", err)
	}
}

func TestListAllUsernames(t *testing.T) {
	_, srv := newFakeJenkins(t)
	c := newClient(t, srv.URL)
	ctx := context.Background()

	c.CreateUser(ctx, "Alice", "pw", false)
	c.CreateUser(ctx, "RedTeam", "pw", true)

	names, err := c.ListAllUsernames(ctx)
	if err != nil {
		t.Fatalf("ListAllUsernames: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("names = %v, want two folders", names)
	}
	for _, n := range names {
		if n == "loose-job" {
			t.Error("non-folder items must be skipped")
		}
	}
}

func TestUnauthorized(t *testing.T) {
	_, srv := newFakeJenkins(t)
	c, err := jenkins.NewClient(jenkins.ClientConfig{
		Config:     jenkins.Config{URL: srv.URL, Username: "admin", Token: "wrong"},
		HTTPClient: httpclient.NewContextClient(httpclient.New(nil)),
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.UserExists(context.Background(), "Alice")
	if !errors.Is(err, remote.ErrRemote) || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401 ErrRemote, got %v", err)
	}
}

func TestWebURL(t *testing.T) {
	c := newClient(t, "https://ci.example.org/")
	if got := c.WebURL("Alice", "my proj"); got != "https://ci.example.org/job/Alice/job/my%20proj/" {
		t.Errorf("WebURL = %q", got)
	}
}
