package transport

import (
	"golang.org/x/crypto/ssh"
)

// MakeNoAuth returns a server config that lets everyone in. Public keys are
// accepted and their fingerprint kept in the connection's permissions.
func MakeNoAuth() *ssh.ServerConfig {
	config := ssh.ServerConfig{
		NoClientAuth: false,
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			perm := &ssh.Permissions{Extensions: map[string]string{"fingerprint": Fingerprint(key)}}
			return perm, nil
		},
		KeyboardInteractiveCallback: func(conn ssh.ConnMetadata, challenge ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
			return nil, nil
		},
	}

	return &config
}

func Fingerprint(k ssh.PublicKey) string {
	return ssh.FingerprintSHA256(k)
}
