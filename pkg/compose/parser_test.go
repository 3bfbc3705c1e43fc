package compose

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackd/stackd/pkg/types"
)

const validTopology = `
services:
  web:
    image: knoweak/api:latest
    depends_on:
      - database
    ports:
      - "8000:8000"
    environment:
      DB_HOST: ${database.host}
      DB_PORT: ${database.port}
      LOG_LEVEL: info
    x-command: ["python", "-m", "app"]
    x-readiness:
      type: http
      target: http://127.0.0.1:8000/health
      timeout: 30s
      interval: 500ms
  database:
    image: mysql:5.7
    ports:
      - "3306:3306"
    environment:
      MYSQL_ROOT_PASSWORD: secret
    volumes:
      - db-data:/var/lib/mysql
      - ./conf.d:/etc/mysql/conf.d:ro
volumes:
  db-data:
    driver: local
    x-init-scripts:
      - name: create-schema
        command: ["mysql", "-e", "CREATE DATABASE knoweak"]
      - name: seed-domains
        command: ["mysql", "knoweak", "-e", "SOURCE /seed.sql"]
`

func TestParse_ValidTopology(t *testing.T) {
	topo, err := Parse([]byte(validTopology), "knoweak")
	require.NoError(t, err)

	require.Len(t, topo.Services, 2)
	require.Len(t, topo.Volumes, 1)

	// Declaration order preserved.
	assert.Equal(t, []string{"web", "database"}, topo.ServiceNames())
	assert.Equal(t, 0, topo.Services[0].Index)
	assert.Equal(t, 1, topo.Services[1].Index)

	web := topo.Service("web")
	require.NotNil(t, web)
	assert.Equal(t, "knoweak/api:latest", web.Image)
	assert.Equal(t, []string{"database"}, web.DependsOn)
	assert.Equal(t, []string{"python", "-m", "app"}, web.Command)
	assert.Equal(t, "${database.host}", web.Environment["DB_HOST"])

	require.Len(t, web.Ports, 1)
	assert.Equal(t, 8000, web.Ports[0].Published)
	assert.Equal(t, 8000, web.Ports[0].Target)

	require.NotNil(t, web.Readiness)
	assert.Equal(t, types.ProbeHTTP, web.Readiness.Type)
	assert.Equal(t, "http://127.0.0.1:8000/health", web.Readiness.Target)
	assert.Equal(t, 30*time.Second, web.Readiness.Timeout)
	assert.Equal(t, 500*time.Millisecond, web.Readiness.Interval)

	db := topo.Service("database")
	require.NotNil(t, db)
	require.Len(t, db.Mounts, 2)
	assert.Equal(t, "db-data", db.Mounts[0].Source)
	assert.Equal(t, "/var/lib/mysql", db.Mounts[0].Target)
	assert.False(t, db.Mounts[0].HostPath)
	assert.True(t, db.Mounts[1].HostPath)
	assert.True(t, db.Mounts[1].ReadOnly)

	vol := topo.Volume("db-data")
	require.NotNil(t, vol)
	assert.Equal(t, "local", vol.Driver)
	require.Len(t, vol.InitScripts, 2)
	assert.Equal(t, "create-schema", vol.InitScripts[0].Name)
	assert.Equal(t, "seed-domains", vol.InitScripts[1].Name)
}

func TestParse_EmptyInput(t *testing.T) {
	_, err := Parse([]byte("   \n"), "test")
	require.Error(t, err)

	var cfgErr *types.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.True(t, errors.Is(err, types.ErrEmptyInput))
}

func TestParse_NoServices(t *testing.T) {
	_, err := Parse([]byte("volumes:\n  data: {}\n"), "test")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrNoServices))
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("services: [unclosed"), "test")
	require.Error(t, err)

	var cfgErr *types.ConfigError
	require.True(t, errors.As(err, &cfgErr))
}

func TestParse_UndeclaredDependency(t *testing.T) {
	src := `
services:
  web:
    image: app
    depends_on:
      - database
`
	_, err := Parse([]byte(src), "test")
	require.Error(t, err)

	var cfgErr *types.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.True(t, errors.Is(err, types.ErrUnknownDependency))
	assert.Contains(t, cfgErr.Field, "web")
}

func TestParse_UndeclaredVolume(t *testing.T) {
	src := `
services:
  cache:
    image: redis
    volumes:
      - cache-data:/data
`
	_, err := Parse([]byte(src), "test")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrUnknownVolume))
}

func TestParse_SelfDependency(t *testing.T) {
	src := `
services:
  web:
    image: app
    depends_on:
      - web
`
	_, err := Parse([]byte(src), "test")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrSelfDependency))
}

func TestParse_BadInitScript(t *testing.T) {
	src := `
services:
  database:
    image: mysql
volumes:
  db-data:
    x-init-scripts:
      - name: broken
`
	_, err := Parse([]byte(src), "test")
	require.Error(t, err)

	var cfgErr *types.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, cfgErr.Field, "x-init-scripts")
}

func TestValidate_DuplicateServiceName(t *testing.T) {
	topo := &types.Topology{
		Services: []*types.Service{
			{Name: "web"},
			{Name: "web", Index: 1},
		},
	}
	err := Validate(topo)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrDuplicateName))
}
