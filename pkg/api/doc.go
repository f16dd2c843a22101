// Package api exposes the authorization core over HTTP: windowed entity
// listings, instance CRUD, sharing grants, and the account, group, and
// scope management endpoints. Handlers read permissions through the
// authorizer and hand every cache-relevant mutation to the maintainer as
// an asynchronous job.
package api
