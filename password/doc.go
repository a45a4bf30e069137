// Package password provides argon2id password hashing with PHC-format
// encoding, constant-time verification, rehash detection, and the password
// policy applied at registration and password-change time.
package password
