// Package errors renders failures of the loopback API as RFC 7807 problem
// documents. License engine errors are mapped by MapLicenseError; request
// faults use APIError.
package errors
