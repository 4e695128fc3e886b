/*
Package authsdk is a client for a hosted password identity provider that speaks
the Identity Toolkit REST dialect.

# Overview

The client covers the handful of operations an application front end needs:

	client := authsdk.NewClient(apiKey)

	// Password sign in and sign up
	user, err := client.SignInWithPassword(ctx, "a@x.com", "pw")
	user, err := client.SignUp(ctx, "a@x.com", "pw")

	// Password reset mail
	err := client.SendPasswordResetEmail(ctx, "a@x.com")

	// Local sign out
	err := client.SignOut(ctx)

# Sessions

A successful sign in or sign up makes the returned user the client's current
session. ID tokens are refreshed automatically 30 seconds before they expire
whenever IDToken or RefreshIfNeeded is called:

	token, err := client.IDToken(ctx)

If the provider rejects the refresh token (expired, user disabled or deleted)
the session is dropped and listeners see a signed-out transition.

# State changes

OnStateChange registers a listener that is called with the current user
immediately and again on every sign in, sign up, token refresh and sign out.
A nil user means signed out:

	unsubscribe := client.OnStateChange(func(u *authsdk.User) {
		if u == nil {
			// signed out
		}
	})
	defer unsubscribe()

# Errors

Every provider failure is returned as *Error with a stable, dash separated
Code (for example "email-already-in-use" or "quota-exceeded") and the raw
provider Message:

	var apiErr *authsdk.Error
	if errors.As(err, &apiErr) && apiErr.Code == authsdk.CodeWrongPassword {
		// bad password
	}

Transport failures are reported with CodeNetworkRequestFailed.

# Thread Safety

Client is safe for concurrent use by multiple goroutines.
*/
package authsdk
