// Package remotetest provides in-memory remote.CI and remote.Repository
// implementations that count calls and can be told to fail.
package remotetest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/CodeMC/bot/internal/components/remote"
)

// counter records calls and injected failures per method name.
type counter struct {
	calls map[string]int
	fail  map[string]error
}

func newCounter() counter {
	return counter{calls: make(map[string]int), fail: make(map[string]error)}
}

// hit must be called with the owner's lock held.
func (c *counter) hit(method string) error {
	c.calls[method]++
	if err := c.fail[method]; err != nil {
		return fmt.Errorf("%w: %s: %v", remote.ErrRemote, method, err)
	}
	return nil
}

func (c *counter) total() int {
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

// CIUser is the state kept for one CI account.
type CIUser struct {
	Password       string
	IsGroup        bool
	Jobs           map[string]string // job name -> repo link
	Freestyle      map[string]bool
	Builds         map[string]int
	ConfigApplied  int
	PasswordWrites int
}

// CI is an in-memory remote.CI.
type CI struct {
	mu    sync.Mutex
	users map[string]*CIUser
	counter
}

// NewCI returns an empty CI fake.
func NewCI() *CI {
	return &CI{users: make(map[string]*CIUser), counter: newCounter()}
}

// FailOn makes every later call to method fail with err. A nil err clears it.
func (c *CI) FailOn(method string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.fail, method)
		return
	}
	c.fail[method] = err
}

// Calls returns how often method was called.
func (c *CI) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// TotalCalls returns the number of calls across all methods.
func (c *CI) TotalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total()
}

// User returns a snapshot of a user's state.
func (c *CI) User(name string) (CIUser, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.users[name]
	if !ok {
		return CIUser{}, false
	}
	cp := *u
	cp.Jobs = copyMap(u.Jobs)
	cp.Freestyle = copyMap(u.Freestyle)
	cp.Builds = copyMap(u.Builds)
	return cp, true
}

// UserCount returns the number of accounts.
func (c *CI) UserCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.users)
}

// Seed adds an account without counting a call.
func (c *CI) Seed(name, password string, isGroup bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[name] = newCIUser(password, isGroup)
}

func newCIUser(password string, isGroup bool) *CIUser {
	return &CIUser{
		Password:  password,
		IsGroup:   isGroup,
		Jobs:      make(map[string]string),
		Freestyle: make(map[string]bool),
		Builds:    make(map[string]int),
	}
}

func (c *CI) UserExists(ctx context.Context, name string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.hit("UserExists"); err != nil {
		return false, err
	}
	_, ok := c.users[name]
	return ok, nil
}

func (c *CI) CreateUser(ctx context.Context, name, password string, isGroup bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.hit("CreateUser"); err != nil {
		return err
	}
	if _, ok := c.users[name]; ok {
		return fmt.Errorf("%w: user %s already exists", remote.ErrRemote, name)
	}
	c.users[name] = newCIUser(password, isGroup)
	return nil
}

func (c *CI) CreateJob(ctx context.Context, name, jobName, repoLink string, freestyle bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.hit("CreateJob"); err != nil {
		return err
	}
	u, ok := c.users[name]
	if !ok {
		return fmt.Errorf("%w: no user %s", remote.ErrRemote, name)
	}
	if _, ok := u.Jobs[jobName]; ok {
		return fmt.Errorf("%w: job %s/%s already exists", remote.ErrRemote, name, jobName)
	}
	u.Jobs[jobName] = repoLink
	u.Freestyle[jobName] = freestyle
	return nil
}

func (c *CI) TriggerBuild(ctx context.Context, name, jobName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.hit("TriggerBuild"); err != nil {
		return err
	}
	u, ok := c.users[name]
	if !ok {
		return fmt.Errorf("%w: no user %s", remote.ErrRemote, name)
	}
	if _, ok := u.Jobs[jobName]; !ok {
		return fmt.Errorf("%w: no job %s/%s", remote.ErrRemote, name, jobName)
	}
	u.Builds[jobName]++
	return nil
}

func (c *CI) DeleteUser(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.hit("DeleteUser"); err != nil {
		return err
	}
	delete(c.users, name)
	return nil
}

func (c *CI) DeleteJob(ctx context.Context, name, jobName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.hit("DeleteJob"); err != nil {
		return err
	}
	if u, ok := c.users[name]; ok {
		delete(u.Jobs, jobName)
		delete(u.Freestyle, jobName)
		delete(u.Builds, jobName)
	}
	return nil
}

func (c *CI) ChangePassword(ctx context.Context, name, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.hit("ChangePassword"); err != nil {
		return err
	}
	u, ok := c.users[name]
	if !ok {
		return fmt.Errorf("%w: no user %s", remote.ErrRemote, name)
	}
	u.Password = password
	u.PasswordWrites++
	return nil
}

func (c *CI) EnsureUserConfig(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.hit("EnsureUserConfig"); err != nil {
		return err
	}
	u, ok := c.users[name]
	if !ok {
		return fmt.Errorf("%w: no user %s", remote.ErrRemote, name)
	}
	u.ConfigApplied++
	if u.Password == "" {
		return fmt.Errorf("%w: %s", remote.ErrCredentialMissing, name)
	}
	return nil
}

// DropCredential unbinds the user's credential without counting a call.
func (c *CI) DropCredential(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if u, ok := c.users[name]; ok {
		u.Password = ""
	}
}

func (c *CI) GetJobInfo(ctx context.Context, name, jobName string) (*remote.JobInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.hit("GetJobInfo"); err != nil {
		return nil, err
	}
	u, ok := c.users[name]
	if !ok {
		return nil, nil
	}
	link, ok := u.Jobs[jobName]
	if !ok {
		return nil, nil
	}
	return &remote.JobInfo{
		Name:            jobName,
		URL:             "https://ci.test/job/" + name + "/job/" + jobName + "/",
		Description:     link,
		Buildable:       true,
		LastBuildNumber: u.Builds[jobName],
	}, nil
}

func (c *CI) ListAllUsernames(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.hit("ListAllUsernames"); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(c.users))
	for n := range c.users {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// Repository is an in-memory remote.Repository keyed by username.
type Repository struct {
	mu       sync.Mutex
	accounts map[string]string // name -> password
	counter
}

// NewRepository returns an empty Repository fake.
func NewRepository() *Repository {
	return &Repository{accounts: make(map[string]string), counter: newCounter()}
}

// FailOn makes every later call to method fail with err. A nil err clears it.
func (r *Repository) FailOn(method string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.fail, method)
		return
	}
	r.fail[method] = err
}

// Calls returns how often method was called.
func (r *Repository) Calls(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[method]
}

// TotalCalls returns the number of calls across all methods.
func (r *Repository) TotalCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total()
}

// Password returns the stored password and whether the account exists.
func (r *Repository) Password(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pw, ok := r.accounts[name]
	return pw, ok
}

// AccountCount returns the number of accounts.
func (r *Repository) AccountCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.accounts)
}

// Seed adds an account without counting a call.
func (r *Repository) Seed(name, password string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[name] = password
}

func (r *Repository) Exists(ctx context.Context, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.hit("Exists"); err != nil {
		return false, err
	}
	_, ok := r.accounts[name]
	return ok, nil
}

func (r *Repository) Create(ctx context.Context, name, password string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.hit("Create"); err != nil {
		return err
	}
	if _, ok := r.accounts[name]; ok {
		return fmt.Errorf("%w: account %s already exists", remote.ErrRemote, name)
	}
	r.accounts[name] = password
	return nil
}

func (r *Repository) ChangePassword(ctx context.Context, name, password string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.hit("ChangePassword"); err != nil {
		return err
	}
	if _, ok := r.accounts[name]; !ok {
		return fmt.Errorf("%w: no account %s", remote.ErrRemote, name)
	}
	r.accounts[name] = password
	return nil
}

func (r *Repository) Delete(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.hit("Delete"); err != nil {
		return err
	}
	delete(r.accounts, name)
	return nil
}

func (r *Repository) GetRepositoryInfo(ctx context.Context, name string) (*remote.RepoInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.hit("GetRepositoryInfo"); err != nil {
		return nil, err
	}
	if _, ok := r.accounts[name]; !ok {
		return nil, nil
	}
	return &remote.RepoInfo{Name: name, Format: "maven2", Type: "hosted", URL: "https://repo.test/repository/" + name}, nil
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var (
	_ remote.CI         = (*CI)(nil)
	_ remote.Repository = (*Repository)(nil)
)
