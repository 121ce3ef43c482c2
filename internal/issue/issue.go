// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/slices"
)

const (
	ConfigLoadFailedId Id = iota + 1
	ArchiveRootNotFoundId
	ToolkitNotFoundId
	RuntimeNotAvailableId
	ContainerEngineNotFoundId
	ProcessNotFoundId
	ServerStartFailedId
	PermissionDeniedId
)

type (
	Id int

	MarkdownMsg string

	HttpLink string

	Issue struct {
		id       Id
		mdMsg    MarkdownMsg
		docLinks []HttpLink
		extLinks []HttpLink
	}
)

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

// Render renders the issue markdown with the given glamour style ("dark",
// "light", "notty" or a path to a style file).
func (i *Issue) Render(stylePath string) (string, error) {
	var md strings.Builder
	md.WriteString(string(i.mdMsg))
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		md.WriteString("\n\n## See also\n")
		for _, link := range append(i.DocLinks(), i.extLinks...) {
			md.WriteString("- <" + string(link) + ">\n")
		}
	}
	return render(md.String(), stylePath)
}

var (
	render = glamour.Render

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

The configuration file could not be read or does not match the schema.

## Things you can try:
- Show the effective configuration:
~~~
$ magicwps config show
~~~
- Write a fresh default file and compare:
~~~
$ magicwps config init
~~~
- Durations are CUE strings such as "10s", ports are integers.`,
	}

	archiveRootNotFoundIssue = &Issue{
		id: ArchiveRootNotFoundId,
		mdMsg: `
# CMIP5 archive not found!

The data finder could not open the configured archive root.

## Things you can try:
- Set ` + "`data.archive_root`" + ` to the top of a CMIP5 DRS tree:
~~~cue
data: archive_root: "/data/cmip5/output1"
~~~
- Or export ` + "`MAGICWPS_DATA_ARCHIVE_ROOT`" + `.
- Check the directory levels in ` + "`data.levels`" + ` match your tree.`,
		extLinks: []HttpLink{"https://pcmdi.llnl.gov/mips/cmip5/docs/cmip5_data_reference_syntax.pdf"},
	}

	toolkitNotFoundIssue = &Issue{
		id: ToolkitNotFoundId,
		mdMsg: `
# ESMValTool not found!

The diagnostic processes need the ` + "`esmvaltool`" + ` executable.

## Things you can try:
- Install ESMValTool into the environment running magicwps.
- Point ` + "`esmvaltool.command`" + ` at the executable.
- Run the toolkit in a container instead:
~~~cue
esmvaltool: {
	runtime: "container"
	image:   "esmvalgroup/esmvaltool:latest"
}
~~~`,
		docLinks: []HttpLink{"https://docs.esmvaltool.org/en/latest/quickstart/installation.html"},
	}

	runtimeNotAvailableIssue = &Issue{
		id: RuntimeNotAvailableId,
		mdMsg: `
# Runtime not available!

The configured ` + "`esmvaltool.runtime`" + ` cannot run on this host.

## Available runtimes:
- **native**: runs the command directly
- **virtual**: runs the command through the built-in shell interpreter
- **container**: runs the command in Docker or Podman`,
	}

	containerEngineNotFoundIssue = &Issue{
		id: ContainerEngineNotFoundId,
		mdMsg: `
# Container engine not found!

The container runtime needs Docker or Podman.

## Things you can try:
- Install Podman or Docker.
- Set ` + "`esmvaltool.container_engine`" + ` to the engine you have.
- Switch to the native runtime.`,
	}

	processNotFoundIssue = &Issue{
		id: ProcessNotFoundId,
		mdMsg: `
# Process not found!

No process with that identifier is in the catalog.

## Things you can try:
~~~
$ magicwps processes list
~~~`,
	}

	serverStartFailedIssue = &Issue{
		id: ServerStartFailedId,
		mdMsg: `
# The WPS server failed to start!

## Things you can try:
- Check that nothing else listens on the configured port.
- Choose another port:
~~~
$ magicwps serve --port 5001
~~~`,
	}

	permissionDeniedIssue = &Issue{
		id: PermissionDeniedId,
		mdMsg: `
# Permission denied!

magicwps could not write to a directory it needs.

## Things you can try:
- Check that ` + "`jobs.workdir`" + ` is writable.
- Check that the data finder cache file directory is writable.`,
	}

	issues = map[Id]*Issue{
		configLoadFailedIssue.Id():        configLoadFailedIssue,
		archiveRootNotFoundIssue.Id():     archiveRootNotFoundIssue,
		toolkitNotFoundIssue.Id():         toolkitNotFoundIssue,
		runtimeNotAvailableIssue.Id():     runtimeNotAvailableIssue,
		containerEngineNotFoundIssue.Id(): containerEngineNotFoundIssue,
		processNotFoundIssue.Id():         processNotFoundIssue,
		serverStartFailedIssue.Id():       serverStartFailedIssue,
		permissionDeniedIssue.Id():        permissionDeniedIssue,
	}
)

// Values returns all issues ordered by Id.
func Values() []*Issue {
	out := make([]*Issue, 0, len(issues))
	for _, is := range issues {
		out = append(out, is)
	}
	slices.SortFunc(out, func(a, b *Issue) int { return int(a.id) - int(b.id) })
	return out
}

func Get(id Id) *Issue {
	return issues[id]
}
