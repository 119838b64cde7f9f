package crdb

const MaxTxAttempts = maxTxAttempts
