// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"cmp"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/slices"
)

type Id int

const (
	ConfigLoadFailedId Id = iota + 1
	ServerStartFailedId
	HostNotRunningId
	NoSourcesConfiguredId
	SourceUnreachableId
	ManifestInvalidId
	DependencyCycleId
	ModulesNotFoundId
	IncompatibleVersionId
	ChecksumMismatchId
	PermissionDeniedId
)

type MarkdownMsg string

type HttpLink string

type Renderer interface {
	Render(in string, stylePath string) (string, error)
}

type Issue struct {
	id       Id          // ID used to lookup the issue
	mdMsg    MarkdownMsg // Markdown text that will be rendered
	docLinks []HttpLink
	extLinks []HttpLink // external links that might be useful for the user
}

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

func (i *Issue) Render(stylePath string) (string, error) {
	extraMd := ""
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		extraMd += "\n\n"
		extraMd += "## See also: "
		for _, link := range i.docLinks {
			extraMd += "- [" + string(link) + "]"
		}
		for _, link := range i.extLinks {
			extraMd += "- [" + string(link) + "]"
		}
	}
	return render(string(i.mdMsg)+extraMd, stylePath)
}

var (
	render = glamour.Render

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

The configuration file could not be read or does not match the schema.

## Things you can try:
- Show where modhost looks for its configuration:
~~~
$ modhost config path
~~~

- Write a fresh default file and compare:
~~~
$ modhost config init
~~~

- Check MODHOST_* environment variables, they override the file.`,
	}

	serverStartFailedIssue = &Issue{
		id: ServerStartFailedId,
		mdMsg: `
# Failed to start the host server!

The IPC listener could not be started.

## Things you can try:
- Make sure no other modhost instance is bound to the same address
- Pick another address in your config:
~~~cue
server: address: "127.0.0.1:0"
~~~`,
	}

	hostNotRunningIssue = &Issue{
		id: HostNotRunningId,
		mdMsg: `
# The host is not reachable!

This command talks to a running host over IPC, but none answered.

## Things you can try:
- Start the host and export the address and token it prints:
~~~
$ modhost serve
$ export MODHOST_ADDR=... MODHOST_TOKEN=...
~~~

- Or resolve directly against the local catalog:
~~~
$ modhost resolve --local <module>...
~~~`,
	}

	noSourcesConfiguredIssue = &Issue{
		id: NoSourcesConfiguredId,
		mdMsg: `
# No catalog sources configured!

Modules can only be retrieved from a catalog source.

## Things you can try:
- Add a source to your config file:
~~~cue
sources: ["https://catalog.example.org/modules/"]
~~~

- Or pass one for a single run:
~~~
$ modhost sync --source https://catalog.example.org/modules/
~~~`,
	}

	sourceUnreachableIssue = &Issue{
		id: SourceUnreachableId,
		mdMsg: `
# Catalog source unreachable!

The remote catalog could not be fetched. Nothing local was changed.

## Things you can try:
- Check your network connection and the source URL
- For s3:// sources, check the s3 endpoint and credentials in your config
- Retry later, modhost does not retry transfers on its own`,
	}

	manifestInvalidIssue = &Issue{
		id: ManifestInvalidId,
		mdMsg: `
# Invalid catalog manifest!

A catalog manifest failed schema or structural validation.

## Common causes:
- Duplicate module names
- A module that depends on or replaces itself through a loop
- Artifact paths that escape the library directory

## Things you can try:
- Inspect the local copy:
~~~
$ modhost catalog list
~~~

- Sync again to replace it with the remote generation:
~~~
$ modhost sync
~~~`,
	}

	dependencyCycleIssue = &Issue{
		id: DependencyCycleId,
		mdMsg: `
# Dependency cycle detected!

Modules in the catalog depend on each other in a loop, so no load order exists.

## Things you can try:
- Report the cycle shown above to the catalog maintainer
- Sync again in case a newer generation fixes it`,
	}

	modulesNotFoundIssue = &Issue{
		id: ModulesNotFoundId,
		mdMsg: `
# Modules not found!

Some requested modules are neither installed nor offered by any source.

## Things you can try:
- Check the module names for typos
- List what the configured sources offer:
~~~
$ modhost catalog list
~~~

- Try another repository (stable, testing, unstable)`,
	}

	incompatibleVersionIssue = &Issue{
		id: IncompatibleVersionId,
		mdMsg: `
# Incompatible catalog version!

The installed catalog does not satisfy the requested API level or minimum version.

## Things you can try:
- Check for a newer catalog:
~~~
$ modhost update --check
~~~

- Switch to a repository that carries newer releases`,
	}

	checksumMismatchIssue = &Issue{
		id: ChecksumMismatchId,
		mdMsg: `
# Checksum mismatch!

A file does not match the content hash declared by its catalog.

## Things you can try:
- Re-verify what is installed:
~~~
$ modhost catalog verify
~~~

- Sync again so the affected modules are downloaded anew`,
	}

	permissionDeniedIssue = &Issue{
		id: PermissionDeniedId,
		mdMsg: `
# Permission denied!

modhost could not write to its data directory.

## Things you can try:
- Check permissions of the root directory shown by:
~~~
$ modhost config show
~~~

- Point root_dir to a directory you own`,
	}

	issues = map[Id]*Issue{
		configLoadFailedIssue.Id():    configLoadFailedIssue,
		serverStartFailedIssue.Id():   serverStartFailedIssue,
		hostNotRunningIssue.Id():      hostNotRunningIssue,
		noSourcesConfiguredIssue.Id(): noSourcesConfiguredIssue,
		sourceUnreachableIssue.Id():   sourceUnreachableIssue,
		manifestInvalidIssue.Id():     manifestInvalidIssue,
		dependencyCycleIssue.Id():     dependencyCycleIssue,
		modulesNotFoundIssue.Id():     modulesNotFoundIssue,
		incompatibleVersionIssue.Id(): incompatibleVersionIssue,
		checksumMismatchIssue.Id():    checksumMismatchIssue,
		permissionDeniedIssue.Id():    permissionDeniedIssue,
	}
)

// Values returns every issue ordered by id.
func Values() []*Issue {
	out := make([]*Issue, 0, len(issues))
	for _, i := range issues {
		out = append(out, i)
	}
	slices.SortFunc(out, func(a, b *Issue) int { return cmp.Compare(a.id, b.id) })
	return out
}

func Get(id Id) *Issue {
	return issues[id]
}
