// Package main (cmd/skclient) is the command-line client of a cluster.
//
// Every command talks to all nodes given with --nodes, in rank order:
//
//	skclient -n 3 -t 1 --nodes http://a:8080 --nodes http://b:8080 --nodes http://c:8080 seed
//	skclient ... enroll --user alice --secret 'my seed phrase' --password hunter2
//	skclient ... recover --user alice --password hunter2
//	skclient ... keygen
//	skclient ... sign --group-key 02ab... --signers 1 --signers 3 --message hello
//	skclient ... publish --key pk/main --value 02ab...
//	skclient ... fetch --key pk/main
//
// recover exits non-zero when the password is rejected.
package main
