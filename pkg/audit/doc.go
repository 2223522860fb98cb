// Package audit records login activity.
//
// Every email or SSO login attempt and every logout is written to the login_activity
// table with an ActivityCode. Successful attempts carry a non-negative code; rejected
// attempts carry a negative one that names the reason:
//
//	recorder.Record(ctx, email, audit.IncorrectCredential, "email", "")
//
// Handlers exposes the records to organization users holding loginActivity:view and
// loginActivity:delete. Store.Purge backs the scheduled retention job.
package audit
