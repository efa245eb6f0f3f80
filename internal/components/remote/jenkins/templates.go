package jenkins

import (
	"bytes"
	"encoding/xml"
	"strings"
	"text/template"
)

var funcs = template.FuncMap{
	"xml": func(s string) string {
		var b strings.Builder
		_ = xml.EscapeText(&b, []byte(s))
		return b.String()
	},
}

// folderTemplate is the baseline folder config. Individual accounts get
// the matrix permissions for their own folder; groups are managed by admins.
var folderTemplate = template.Must(template.New("folder").Funcs(funcs).Parse(`<?xml version='1.1' encoding='UTF-8'?>
<com.cloudbees.hudson.plugins.folder.Folder plugin="cloudbees-folder">
  <description>{{xml .Name}}</description>
  <properties>
{{- if not .IsGroup}}
    <com.cloudbees.hudson.plugins.folder.properties.AuthorizationMatrixProperty>
      <inheritanceStrategy class="org.jenkinsci.plugins.matrixauth.inheritance.InheritParentStrategy"/>
      <permission>USER:hudson.model.Item.Build:{{xml .Name}}</permission>
      <permission>USER:hudson.model.Item.Cancel:{{xml .Name}}</permission>
      <permission>USER:hudson.model.Item.Configure:{{xml .Name}}</permission>
      <permission>USER:hudson.model.Item.Create:{{xml .Name}}</permission>
      <permission>USER:hudson.model.Item.Delete:{{xml .Name}}</permission>
      <permission>USER:hudson.model.Item.Read:{{xml .Name}}</permission>
      <permission>USER:hudson.model.Item.Workspace:{{xml .Name}}</permission>
      <permission>USER:hudson.model.Run.Delete:{{xml .Name}}</permission>
      <permission>USER:hudson.model.Run.Update:{{xml .Name}}</permission>
    </com.cloudbees.hudson.plugins.folder.properties.AuthorizationMatrixProperty>
{{- end}}
{{- if .Credentials}}
    {{.Credentials}}
{{- end}}
    <org.jenkinsci.plugins.configfiles.folder.FolderConfigFileProperty plugin="config-file-provider"/>
  </properties>
  <folderViews class="com.cloudbees.hudson.plugins.folder.views.DefaultFolderViewHolder">
    <views>
      <hudson.model.AllView>
        <owner class="com.cloudbees.hudson.plugins.folder.Folder" reference="../../../.."/>
        <name>All</name>
        <filterExecutors>false</filterExecutors>
        <filterQueue>false</filterQueue>
        <properties class="hudson.model.View$PropertyList"/>
      </hudson.model.AllView>
    </views>
    <tabBar class="hudson.views.DefaultViewsTabBar"/>
  </folderViews>
  <healthMetrics/>
  <icon class="com.cloudbees.hudson.plugins.folder.icons.StockFolderIcon"/>
</com.cloudbees.hudson.plugins.folder.Folder>
`))

var freestyleTemplate = template.Must(template.New("freestyle").Funcs(funcs).Parse(`<?xml version='1.1' encoding='UTF-8'?>
<project>
  <description>{{xml .RepoLink}}</description>
  <keepDependencies>false</keepDependencies>
  <scm class="hudson.plugins.git.GitSCM" plugin="git">
    <configVersion>2</configVersion>
    <userRemoteConfigs>
      <hudson.plugins.git.UserRemoteConfig>
        <url>{{xml .RepoLink}}</url>
      </hudson.plugins.git.UserRemoteConfig>
    </userRemoteConfigs>
    <branches>
      <hudson.plugins.git.BranchSpec>
        <name>*/*</name>
      </hudson.plugins.git.BranchSpec>
    </branches>
  </scm>
  <canRoam>true</canRoam>
  <disabled>false</disabled>
  <triggers>
    <com.cloudbees.jenkins.GitHubPushTrigger plugin="github">
      <spec></spec>
    </com.cloudbees.jenkins.GitHubPushTrigger>
  </triggers>
  <concurrentBuild>false</concurrentBuild>
  <builders/>
  <publishers>
    <hudson.tasks.ArtifactArchiver>
      <artifacts>**/build/libs/*.jar</artifacts>
      <allowEmptyArchive>true</allowEmptyArchive>
    </hudson.tasks.ArtifactArchiver>
  </publishers>
  <buildWrappers/>
</project>
`))

var mavenTemplate = template.Must(template.New("maven").Funcs(funcs).Parse(`<?xml version='1.1' encoding='UTF-8'?>
<maven2-moduleset plugin="maven-plugin">
  <description>{{xml .RepoLink}}</description>
  <keepDependencies>false</keepDependencies>
  <scm class="hudson.plugins.git.GitSCM" plugin="git">
    <configVersion>2</configVersion>
    <userRemoteConfigs>
      <hudson.plugins.git.UserRemoteConfig>
        <url>{{xml .RepoLink}}</url>
      </hudson.plugins.git.UserRemoteConfig>
    </userRemoteConfigs>
    <branches>
      <hudson.plugins.git.BranchSpec>
        <name>*/*</name>
      </hudson.plugins.git.BranchSpec>
    </branches>
  </scm>
  <canRoam>true</canRoam>
  <disabled>false</disabled>
  <triggers>
    <com.cloudbees.jenkins.GitHubPushTrigger plugin="github">
      <spec></spec>
    </com.cloudbees.jenkins.GitHubPushTrigger>
  </triggers>
  <concurrentBuild>false</concurrentBuild>
  <goals>clean install</goals>
  <archivingDisabled>false</archivingDisabled>
  <publishers>
{{- if .RepositoryURL}}
    <hudson.maven.RedeployPublisher>
      <id>{{xml .CredentialID}}</id>
      <url>{{xml .RepositoryURL}}</url>
      <uniqueVersion>true</uniqueVersion>
      <evenIfUnstable>false</evenIfUnstable>
    </hudson.maven.RedeployPublisher>
{{- end}}
  </publishers>
  <buildWrappers/>
</maven2-moduleset>
`))

var credentialTemplate = template.Must(template.New("credential").Funcs(funcs).Parse(`<com.cloudbees.plugins.credentials.impl.UsernamePasswordCredentialsImpl>
  <scope>GLOBAL</scope>
  <id>{{xml .ID}}</id>
  <description>Repository credentials</description>
  <username>{{xml .Username}}</username>
  <password>{{xml .Password}}</password>
</com.cloudbees.plugins.credentials.impl.UsernamePasswordCredentialsImpl>
`))

type folderData struct {
	Name    string
	IsGroup bool
	// Credentials is a raw credentials property copied from the live config.
	Credentials string
}

type jobData struct {
	RepoLink      string
	RepositoryURL string
	CredentialID  string
}

type credentialData struct {
	ID       string
	Username string
	Password string
}

func render(t *template.Template, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
